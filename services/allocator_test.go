package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lobby-lab/errors"
)

func TestGenerateJoinCode_Shape(t *testing.T) {
	req := require.New(t)

	code := GenerateJoinCode()

	req.Len(code, 6)
	req.Equal(strings.ToUpper(code), code)
}

func TestAllocator_Allocate_And_Resolve(t *testing.T) {
	req := require.New(t)
	allocator := NewAllocator()

	// When a hosted session is advertised
	code := allocator.Allocate("127.0.0.1:9000")

	// Then the code resolves to the host, case and spacing insensitive
	params, err := allocator.Resolve("  " + strings.ToLower(code) + " ")
	req.NoError(err)
	req.Equal("127.0.0.1:9000", params.Addr)
}

func TestAllocator_Resolve_Unknown_And_Empty_Codes(t *testing.T) {
	req := require.New(t)
	allocator := NewAllocator()

	_, err := allocator.Resolve("NOPE42")
	req.ErrorIs(err, errors.ErrUnknownJoinCode)

	_, err = allocator.Resolve("   ")
	req.ErrorIs(err, errors.ErrEmptyJoinCode)
}

func TestAllocator_Release_Withdraws_The_Code(t *testing.T) {
	req := require.New(t)
	allocator := NewAllocator()
	code := allocator.Allocate("127.0.0.1:9000")

	// When the session closes
	allocator.Release(code)

	// Then the code no longer resolves, and releasing again is harmless
	_, err := allocator.Resolve(code)
	req.ErrorIs(err, errors.ErrUnknownJoinCode)
	allocator.Release(code)
}
