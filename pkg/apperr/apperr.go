// Package apperr holds the sentinel errors shared across layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates a missing, invalid or expired bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput indicates a request that could not be decoded.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGraph indicates a graph store query failed.
	ErrGraph = errors.New("graph operation failed")
)

// Kind joins err with a sentinel so errors.Is matches both.
func Kind(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func IsGraph(err error) bool { return errors.Is(err, ErrGraph) }
