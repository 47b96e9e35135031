package crypto

import (
	"crypto/rand"
	"errors"
	"math"
	"unicode/utf8"
)

const (
	defaultAlphabet string = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	defaultIDSize   int    = 22 // 22 * 6 = 132 bits of entropy, more than a uuid
	maxAlphabetSize int    = 255
	minAlphabetSize int    = 8
)

var (
	ErrAlphabetTooLong     = errors.New("alphabet must contain no more than 255 characters")
	ErrAlphabetTooShort    = errors.New("alphabet must contain at least 8 characters")
	ErrAlphabetInvalidUTF8 = errors.New("alphabet must contain valid UTF-8")
	ErrAlphabetNotASCII    = errors.New("alphabet must contain only ASCII characters")
)

// IDGenerator produces short, unguessable, url-safe identifiers used for
// sessions and token records.
type IDGenerator struct {
	alphabet string
	mask     int
}

func getMask(alphabetLen int) int {
	for i := 1; i <= 8; i++ {
		mask := (2 << uint(i)) - 1
		if mask > alphabetLen-1 {
			return mask
		}
	}
	return maxAlphabetSize // Max mask for 8 bits
}

// NewIDGenerator builds a generator over alphabet; an empty alphabet uses
// the url-safe default.
func NewIDGenerator(alphabet string) (*IDGenerator, error) {
	if alphabet == "" {
		alphabet = defaultAlphabet
	}

	if !utf8.ValidString(alphabet) {
		return nil, ErrAlphabetInvalidUTF8
	}

	// Generate() indexes by byte position, so every rune must be a single
	// byte.
	for _, r := range alphabet {
		if r > 127 {
			return nil, ErrAlphabetNotASCII
		}
	}

	if len(alphabet) > maxAlphabetSize {
		return nil, ErrAlphabetTooLong
	}
	if len(alphabet) < minAlphabetSize {
		return nil, ErrAlphabetTooShort
	}

	return &IDGenerator{
		alphabet: alphabet,
		mask:     getMask(len(alphabet)),
	}, nil
}

// Generate returns a new identifier of size characters; size <= 0 uses the
// default length.
func (g *IDGenerator) Generate(size int) (string, error) {
	if size <= 0 {
		size = defaultIDSize
	}

	alphabetLen := len(g.alphabet)
	step := int(math.Ceil(1.6 * float64(g.mask*size) / float64(alphabetLen)))

	id := make([]byte, size)
	buffer := make([]byte, step)

	for position := 0; position < size; {
		if _, err := rand.Read(buffer); err != nil {
			return "", err
		}

		for i := 0; i < step && position < size; i++ {
			index := buffer[i] & byte(g.mask)

			// Reject candidates outside the alphabet instead of biasing
			// toward its start.
			if int(index) < alphabetLen {
				id[position] = g.alphabet[index]
				position++
			}
		}
	}

	return string(id), nil
}
