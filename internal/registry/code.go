package registry

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet leaves out glyphs that are easy to confuse when read aloud or
// typed: 0/O and 1/I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLen = 5

func GenerateCode() (string, error) {
	code := make([]byte, CodeLen)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(Alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = Alphabet[num.Int64()]
	}
	return string(code), nil
}

// NormalizeCode accepts codes typed in any case with surrounding space.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
