package services

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"lobby-lab/errors"
	"lobby-lab/transport"
)

const joinCodeLength = 6

// GenerateJoinCode produces the short shareable code advertised for a
// hosted session. Uppercased for readability on voice or chat.
func GenerateJoinCode() string {
	return strings.ToUpper(uuid.New().String()[:joinCodeLength])
}

type IAllocator interface {
	Allocate(addr string) string
	Resolve(code string) (transport.ConnectParams, error)
	Release(code string)
}

// Allocator is the join-code directory. It maps short codes to the
// connection parameters of live hosts, standing in for a matchmaking
// backend.
type Allocator struct {
	mu      sync.RWMutex
	entries map[string]transport.ConnectParams
}

func NewAllocator() *Allocator {
	return &Allocator{entries: make(map[string]transport.ConnectParams)}
}

// Allocate registers a hosted session and returns its join code.
func (a *Allocator) Allocate(addr string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	code := GenerateJoinCode()
	// Regenerate on the unlikely collision with a live session
	for _, taken := a.entries[code]; taken; _, taken = a.entries[code] {
		code = GenerateJoinCode()
	}
	a.entries[code] = transport.ConnectParams{Addr: addr}
	return code
}

// Resolve exchanges a join code for the host's connection parameters.
func (a *Allocator) Resolve(code string) (transport.ConnectParams, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return transport.ConnectParams{}, errors.ErrEmptyJoinCode
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	params, ok := a.entries[code]
	if !ok {
		return transport.ConnectParams{}, errors.ErrUnknownJoinCode
	}
	return params, nil
}

// Release withdraws a join code once its session closes. Releasing an
// unknown code is a no-op.
func (a *Allocator) Release(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, code)
}
