package vault

import (
	"crypto/rand"
	"math/big"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberChars = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.<>?"

	MinPasswordLen     = 4
	MaxPasswordLen     = 64
	DefaultPasswordLen = 12
)

type GeneratorOptions struct {
	Length    int
	Uppercase bool
	Numbers   bool
	Symbols   bool
}

func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{Length: DefaultPasswordLen, Uppercase: true, Numbers: true, Symbols: true}
}

// Charset is the alphabet the options draw from. Lowercase is always in.
func (o GeneratorOptions) Charset() string {
	cs := lowerChars
	if o.Uppercase {
		cs += upperChars
	}
	if o.Numbers {
		cs += numberChars
	}
	if o.Symbols {
		cs += symbolChars
	}
	return cs
}

// ClampLength limits n to the supported password length range.
func ClampLength(n int) int {
	return min(max(n, MinPasswordLen), MaxPasswordLen)
}

// Generate builds a random password of o.Length characters.
func Generate(o GeneratorOptions) (string, error) {
	cs := o.Charset()
	n := ClampLength(o.Length)
	limit := big.NewInt(int64(len(cs)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(randReader, limit)
		if err != nil {
			return "", err
		}
		out[i] = cs[idx.Int64()]
	}
	return string(out), nil
}
