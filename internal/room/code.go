package room

import (
	"errors"
	"fmt"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

// codeAlphabet is upper-case only and drops look-alikes (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	DefaultCodeLength = 6
	maxCodeAttempts   = 10
)

var ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")

// CodeGenerator produces room codes that are unique among live rooms.
type CodeGenerator struct {
	next func() string
}

func NewCodeGenerator(length int) (*CodeGenerator, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	gen, err := nanoid.CustomASCII(codeAlphabet, length)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	return &CodeGenerator{next: gen}, nil
}

// Generate draws codes until taken reports a free one.
func (g *CodeGenerator) Generate(taken func(code string) bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := g.next()
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// NormalizeCode makes lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
