// Package providers holds the upstream generator contract shared by the
// image, video and voice drivers.
package providers

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
)

// Request is what a driver receives for one job execution.
type Request struct {
	JobID  string
	Kind   domain.Kind
	Params domain.Request
}

// Metadata describes the decoded artifact.
type Metadata struct {
	Width           int
	Height          int
	DurationSeconds float64
	FrameCount      int
	// Poster is an optional still frame supplied by the upstream, used as
	// the thumbnail when the first frame cannot be extracted.
	Poster []byte
}

// Result is a verified artifact.
type Result struct {
	Data     []byte
	MIME     string
	Metadata Metadata
}

// Generator is the contract implemented by every upstream driver. The
// deadline travels on ctx. Errors are *domain.Error values carrying the
// failure classification.
type Generator interface {
	Kind() domain.Kind
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Set maps kinds to their driver.
type Set map[domain.Kind]Generator

// NewSet indexes generators by kind and rejects duplicates.
func NewSet(gens ...Generator) (Set, error) {
	s := make(Set, len(gens))
	for _, g := range gens {
		if _, dup := s[g.Kind()]; dup {
			return nil, fmt.Errorf("providers: duplicate driver for %s", g.Kind())
		}
		s[g.Kind()] = g
	}
	return s, nil
}

// For returns the driver of kind.
func (s Set) For(kind domain.Kind) (Generator, error) {
	g, ok := s[kind]
	if !ok {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("providers: no driver for %s", kind))
	}
	return g, nil
}
