package entity

import (
	"fmt"
	"time"

	vo "ikedadada/go-onion/shared/domain/value_object"
)

// RelayDescriptor is what the directory knows about one relay. Immutable;
// a key rotation replaces the descriptor.
type RelayDescriptor struct {
	address    vo.Endpoint
	pubKey     vo.RSAPubKey
	registered time.Time
}

func NewRelayDescriptor(addr vo.Endpoint, pk vo.RSAPubKey) (*RelayDescriptor, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("relay descriptor: empty address")
	}
	if pk.PublicKey == nil {
		return nil, fmt.Errorf("relay descriptor: nil public key")
	}
	return &RelayDescriptor{address: addr, pubKey: pk, registered: time.Now().UTC()}, nil
}

// RelayDescriptorFromWire builds a descriptor from its wire form
// ("host:port", canonical PEM).
func RelayDescriptorFromWire(address, publicKeyPEM string) (*RelayDescriptor, error) {
	ep, err := vo.ParseEndpoint(address)
	if err != nil {
		return nil, err
	}
	pk, err := vo.RSAPubKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse public key for %s: %w", address, err)
	}
	return NewRelayDescriptor(ep, pk)
}

func (r *RelayDescriptor) Address() vo.Endpoint    { return r.address }
func (r *RelayDescriptor) PubKey() vo.RSAPubKey    { return r.pubKey }
func (r *RelayDescriptor) RegisteredAt() time.Time { return r.registered }
func (r *RelayDescriptor) Fingerprint() string     { return r.pubKey.Fingerprint() }

// SameKey reports whether both descriptors carry the same public key.
func (r *RelayDescriptor) SameKey(o *RelayDescriptor) bool {
	return o != nil && r.pubKey.Equal(o.pubKey)
}

func (r *RelayDescriptor) String() string {
	return fmt.Sprintf("Relay(%s fp=%.16s)", r.address, r.Fingerprint())
}
