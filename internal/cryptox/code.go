// Package cryptox generates and hashes one-time verification codes.
//
// Codes are hashed with bcrypt so each stored value carries its own salt and
// comparison runs in constant time with respect to the candidate.
package cryptox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Reader is the entropy source. Tests may replace it.
var Reader io.Reader = rand.Reader

// GenerateCode returns n uniformly random decimal digits. Leading zeros are
// kept, so "000042" is as likely as any other value.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("code length must be positive")
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", n, v), nil
}

// CodeHasher hashes codes at a fixed bcrypt cost.
type CodeHasher struct {
	cost int
}

// NewCodeHasher returns a hasher using cost, or bcrypt.DefaultCost when cost
// is out of range.
func NewCodeHasher(cost int) *CodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CodeHasher{cost: cost}
}

func (h *CodeHasher) Hash(code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(b), nil
}

// Compare reports whether code matches hash. A corrupt hash never matches.
func (h *CodeHasher) Compare(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
