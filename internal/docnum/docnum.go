// Package docnum generates the unique document identifiers closure records
// carry. The collision probe against existing numbers is a point-in-time
// optimization; the UNIQUE constraint on the stored column is the real
// guarantee.
package docnum

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrAllocationExhausted is returned when the retry budget runs out without
// finding a free number.
var ErrAllocationExhausted = errors.New("document number allocation exhausted")

// ExistsFunc probes whether a candidate number is already taken.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Allocator draws fixed-width decimal numerals with a non-zero leading digit
// and retries on collision up to MaxRetries.
type Allocator struct {
	Width      int
	MaxRetries int
	Exists     ExistsFunc
}

// New returns an allocator with the conventional 12-digit width.
func New(exists ExistsFunc) Allocator {
	return Allocator{Width: 12, MaxRetries: 1000, Exists: exists}
}

// Allocate returns a number not present among the existing ones at probe
// time, or ErrAllocationExhausted once the retry cap is hit.
func (a Allocator) Allocate(ctx context.Context) (string, error) {
	if a.Width < 1 {
		return "", fmt.Errorf("document number width %d invalid", a.Width)
	}
	retries := a.MaxRetries
	if retries <= 0 {
		retries = 1000
	}
	for i := 0; i < retries; i++ {
		candidate, err := a.draw()
		if err != nil {
			return "", err
		}
		taken, err := a.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrAllocationExhausted
}

func (a Allocator) draw() (string, error) {
	lead, err := rand.Int(rand.Reader, big.NewInt(9))
	if err != nil {
		return "", err
	}
	digits := make([]byte, a.Width)
	digits[0] = byte('1' + lead.Int64())
	for i := 1; i < a.Width; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}
