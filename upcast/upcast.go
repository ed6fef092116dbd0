// Package upcast transforms stored event payloads into the shape current
// readers expect. Upcasting runs on every read and never touches storage, so
// history stays immutable while schemas evolve.
package upcast

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth bounds how many times a single stored message may be
// re-fed into a chain.
const DefaultMaxDepth = 32

// ErrUpcastLoop is returned when a message keeps matching upcasters past the
// chain's depth limit.
var ErrUpcastLoop = errors.New("eventcore.upcast: upcaster chain did not terminate")

// Message is the unit flowing through a chain: a decoded payload plus the
// type tag and payload version it claims to be.
type Message struct {
	Type     string
	Version  int
	Playhead int64
	Data     map[string]interface{}
	Metadata map[string]interface{}
}

// With returns a copy of m with its own top-level Data and Metadata maps.
func (m Message) With() Message {
	out := m
	out.Data = copyMap(m.Data)
	out.Metadata = copyMap(m.Metadata)
	return out
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Upcaster transforms one message into zero, one or many messages.
type Upcaster interface {
	Supports(Message) bool
	Upcast(Message) ([]Message, error)
}

// Chain applies the first supporting upcaster to a message, then feeds each
// result back into the chain until nothing supports it. It is safe for
// concurrent reads once built.
type Chain struct {
	upcasters []Upcaster
	maxDepth  int
}

func NewChain(upcasters ...Upcaster) *Chain {
	return &Chain{upcasters: upcasters, maxDepth: DefaultMaxDepth}
}

// Add appends upcasters to the chain. Not safe to call while reading.
func (c *Chain) Add(upcasters ...Upcaster) *Chain {
	c.upcasters = append(c.upcasters, upcasters...)
	return c
}

// WithMaxDepth changes the termination guard.
func (c *Chain) WithMaxDepth(depth int) *Chain {
	c.maxDepth = depth
	return c
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.upcasters)
}

// Upcast returns the current-schema messages for m. With no supporting
// upcaster, m is returned unchanged as the only element.
func (c *Chain) Upcast(m Message) ([]Message, error) {
	if c == nil {
		return []Message{m}, nil
	}
	return c.upcast(m, 0)
}

func (c *Chain) upcast(m Message, depth int) ([]Message, error) {
	u := c.find(m)
	if u == nil {
		return []Message{m}, nil
	}
	if depth >= c.maxDepth {
		return nil, fmt.Errorf("%w: %s v%d at depth %d", ErrUpcastLoop, m.Type, m.Version, depth)
	}

	next, err := u.Upcast(m.With())
	if err != nil {
		return nil, fmt.Errorf("eventcore.upcast: %s v%d: %w", m.Type, m.Version, err)
	}

	out := make([]Message, 0, len(next))
	for _, n := range next {
		res, err := c.upcast(n, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (c *Chain) find(m Message) Upcaster {
	for _, u := range c.upcasters {
		if u.Supports(m) {
			return u
		}
	}
	return nil
}
