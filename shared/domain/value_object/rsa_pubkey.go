package value_object

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrNoPEMData           = errors.New("no PEM data")
	ErrUnsupportedKeyType  = errors.New("unsupported key type")
	ErrUnsupportedPEMBlock = errors.New("unsupported PEM block type")
)

const pemTypePublicKey = "PUBLIC KEY"

// RSAPubKey is a relay's public key. Between components it only ever travels
// in its canonical form: PEM "PUBLIC KEY" (PKIX, DER inside).
type RSAPubKey struct{ *rsa.PublicKey }

func NewRSAPubKey(k *rsa.PublicKey) (RSAPubKey, error) {
	if k == nil {
		return RSAPubKey{}, errors.New("nil public key")
	}
	return RSAPubKey{PublicKey: k}, nil
}

func RSAPubKeyFromPEM(pemBytes []byte) (RSAPubKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return RSAPubKey{}, ErrNoPEMData
	}
	switch block.Type {
	case pemTypePublicKey:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return RSAPubKey{}, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return RSAPubKey{}, ErrUnsupportedKeyType
		}
		return RSAPubKey{PublicKey: rsaPub}, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return RSAPubKey{}, err
		}
		return RSAPubKey{PublicKey: pub}, nil
	default:
		return RSAPubKey{}, fmt.Errorf("%w: %q", ErrUnsupportedPEMBlock, block.Type)
	}
}

// DER returns the PKIX encoding of the key.
func (k RSAPubKey) DER() []byte {
	if k.PublicKey == nil {
		return nil
	}
	b, err := x509.MarshalPKIXPublicKey(k.PublicKey)
	if err != nil {
		return nil
	}
	return b
}

// ToPEM returns the canonical serialized form.
func (k RSAPubKey) ToPEM() []byte {
	der := k.DER()
	if der == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})
}

// Fingerprint is BLAKE2b-256 over the DER encoding, hex encoded. Identity
// for logs only; never used for trust decisions.
func (k RSAPubKey) Fingerprint() string {
	sum := blake2b.Sum256(k.DER())
	return hex.EncodeToString(sum[:])
}

func (k RSAPubKey) Equal(o RSAPubKey) bool {
	if k.PublicKey == nil || o.PublicKey == nil {
		return k.PublicKey == o.PublicKey
	}
	return bytes.Equal(k.DER(), o.DER())
}
