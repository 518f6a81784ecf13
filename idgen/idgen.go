// Package idgen provides the identifiers used for entry points, tasks and
// recording sessions.
package idgen

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// ID is a unique identifier represented as a uint64. Zero is never generated
// and stands for "no id".
type ID uint64

// Generator produces unique identifiers.
type Generator interface {
	Generate() ID
}

// New returns a sequential generator whose first emitted ID is "1".
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(atomic.AddUint64(&g.next, 1))
}

// SessionName returns a globally unique, sortable name with the given prefix.
// It is used to name output files and recording tables so that two runs never
// collide.
func SessionName(prefix string) string {
	if prefix == "" {
		return xid.New().String()
	}

	return prefix + "_" + xid.New().String()
}
