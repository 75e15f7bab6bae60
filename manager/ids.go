package manager

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDSource generates request ids.
type IDSource interface {
	NewID() string
}

// IDSourceFunc adapts a function to IDSource.
type IDSourceFunc func() string

// NewID implements IDSource.
func (f IDSourceFunc) NewID() string { return f() }

// UUIDSource generates random UUIDv4 request ids. It is the default.
var UUIDSource IDSource = IDSourceFunc(uuid.NewString)

// CounterSource generates "<prefix>-1", "<prefix>-2", ... for deterministic
// tests.
type CounterSource struct {
	Prefix string
	n      atomic.Uint64
}

// NewID implements IDSource.
func (c *CounterSource) NewID() string {
	return fmt.Sprintf("%s-%d", c.Prefix, c.n.Add(1))
}
