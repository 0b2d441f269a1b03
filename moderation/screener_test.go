package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lobby-lab/errors"
)

// TestScreener_Screen
// The dictionary uses specific words to avoid partial collisions (e.g., "he" inside "The")
func TestScreener_Screen(t *testing.T) {
	req := require.New(t)
	dictionary := []string{"badger", "snake", "mushroom"}
	screener, err := NewScreener(dictionary)
	req.NoError(err)

	tests := []struct {
		name      string
		input     string
		forbidden bool
	}{
		{
			name:      "Clean name passes",
			input:     "Friday Raid Group",
			forbidden: false,
		},
		{
			name:      "Simple forbidden word",
			input:     "the badger lounge",
			forbidden: true,
		},
		{
			name:      "Leet speak and internal punctuation",
			input:     "B.4.d.g.€r den",
			forbidden: true,
		},
		{
			name:      "Uppercase and extreme noise",
			input:     "S-N-A-K-E pit",
			forbidden: true,
		},
		{
			name:      "Accents do not trigger false positives",
			input:     "Un été ensemble",
			forbidden: false,
		},
		{
			name:      "Empty name passes screening",
			input:     "",
			forbidden: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := screener.Screen(tt.input)
			if tt.forbidden {
				require.ErrorIs(t, err, errors.ErrForbiddenName)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewDefaultScreener_LoadsEmbeddedDictionary(t *testing.T) {
	req := require.New(t)

	screener, err := NewDefaultScreener()
	req.NoError(err)

	// "admin" ships in the embedded english dictionary
	req.ErrorIs(screener.Screen("the 4dmin room"), errors.ErrForbiddenName)
	req.NoError(screener.Screen("perfectly fine name"))
}
