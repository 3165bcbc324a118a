package value_object

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

type RSAPrivKey struct {
	key *rsa.PrivateKey
}

// NewRSAPrivKey creates a new RSAPrivKey value object
func NewRSAPrivKey(key *rsa.PrivateKey) *RSAPrivKey {
	if key == nil {
		return nil
	}
	return &RSAPrivKey{key: key}
}

// ToPEM encodes the key as PKCS#8 "PRIVATE KEY".
func (k *RSAPrivKey) ToPEM() []byte {
	if k == nil || k.key == nil {
		return nil
	}
	b, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b})
}

// PublicKey returns the corresponding RSA public key
func (k *RSAPrivKey) PublicKey() RSAPubKey {
	if k == nil || k.key == nil {
		return RSAPubKey{}
	}
	return RSAPubKey{PublicKey: &k.key.PublicKey}
}

// RSAKey returns the underlying *rsa.PrivateKey for crypto operations.
func (k *RSAPrivKey) RSAKey() *rsa.PrivateKey {
	if k == nil {
		return nil
	}
	return k.key
}

// RSAPrivKeyFromPEM accepts PKCS#8 "PRIVATE KEY" and PKCS#1 "RSA PRIVATE KEY".
func RSAPrivKeyFromPEM(pemBytes []byte) (*RSAPrivKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMData
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewRSAPrivKey(key), nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrUnsupportedKeyType
		}
		return NewRSAPrivKey(rsaKey), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPEMBlock, block.Type)
	}
}
