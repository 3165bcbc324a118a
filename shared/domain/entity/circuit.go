package entity

import (
	"errors"
	"fmt"
	"sync"

	vo "ikedadada/go-onion/shared/domain/value_object"
)

// ---- Circuit --------------------------------------------------------------

// Circuit is one client-side session: an ordered relay path plus the per-hop
// symmetric keys of the onion most recently built for it.
type Circuit struct {
	mu   sync.RWMutex
	id   vo.SessionID
	hops []*RelayDescriptor
	keys []vo.AESKey // aligned with hops, empty until an onion is built
}

func NewCircuit(id vo.SessionID, hops []*RelayDescriptor) (*Circuit, error) {
	if id.IsZero() {
		return nil, errors.New("session id required")
	}
	if len(hops) == 0 {
		return nil, errors.New("circuit needs at least one hop")
	}
	for i, h := range hops {
		if h == nil {
			return nil, fmt.Errorf("hop %d is nil", i)
		}
	}
	return &Circuit{
		id:   id,
		hops: append([]*RelayDescriptor(nil), hops...),
	}, nil
}

// ----------------------------------------------------------------------------
// 不変部

func (c *Circuit) ID() vo.SessionID { return c.id }
func (c *Circuit) Len() int         { return len(c.hops) }
func (c *Circuit) Hops() []*RelayDescriptor {
	return append([]*RelayDescriptor(nil), c.hops...)
}
func (c *Circuit) Entry() *RelayDescriptor { return c.hops[0] }
func (c *Circuit) Exit() *RelayDescriptor  { return c.hops[len(c.hops)-1] }

// ----------------------------------------------------------------------------
// 鍵管理

// SetHopKeys replaces the per-hop keys, which must be aligned with the path.
func (c *Circuit) SetHopKeys(keys []vo.AESKey) error {
	if len(keys) != len(c.hops) {
		return fmt.Errorf("hops / keys length mismatch: %d != %d", len(c.hops), len(keys))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked()
	c.keys = append([]vo.AESKey(nil), keys...)
	return nil
}

// HopKeys returns a copy of the per-hop keys, hop 1 first.
func (c *Circuit) HopKeys() []vo.AESKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]vo.AESKey(nil), c.keys...)
}

// WipeKeys zeroes all symmetric keys.
func (c *Circuit) WipeKeys() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked()
	c.keys = nil
}

func (c *Circuit) wipeLocked() {
	for i := range c.keys {
		c.keys[i].Wipe()
	}
}

func (c *Circuit) String() string {
	return fmt.Sprintf("Circuit(%s) hops=%d", c.id, len(c.hops))
}
