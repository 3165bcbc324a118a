package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

const (
	// MinRSABits is the smallest keypair GenerateRSAKeypair will produce.
	MinRSABits = 1024
	// NonceSize is the AES-GCM nonce length prefixed to every sealed blob.
	NonceSize = 12
)

// CryptoService is the hybrid RSA-OAEP / AES-GCM primitive set every
// component shares. All failures are classified as crypto errors.
type CryptoService interface {
	GenerateRSAKeypair(bits int) (*vo.RSAPrivKey, error)
	RSAEncrypt(pub vo.RSAPubKey, in []byte) ([]byte, error)
	RSADecrypt(priv *vo.RSAPrivKey, in []byte) ([]byte, error)
	NewAESKey() (vo.AESKey, error)
	// AESSeal returns nonce || ciphertext, with a fresh random nonce per call.
	AESSeal(key vo.AESKey, plain []byte) ([]byte, error)
	AESOpen(key vo.AESKey, in []byte) ([]byte, error)
	Fingerprint(pub vo.RSAPubKey) string
}

type cryptoServiceImpl struct{}

// NewCryptoService returns a CryptoService backed by Go's crypto packages.
func NewCryptoService() CryptoService { return cryptoServiceImpl{} }

func cryptoErr(op string, err error) error {
	return repository.NewFailure(repository.KindCrypto, op, err)
}

func (cryptoServiceImpl) GenerateRSAKeypair(bits int) (*vo.RSAPrivKey, error) {
	if bits < MinRSABits {
		return nil, cryptoErr("generate keypair", fmt.Errorf("%d bits is below the %d bit minimum", bits, MinRSABits))
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, cryptoErr("generate keypair", err)
	}
	return vo.NewRSAPrivKey(k), nil
}

func (cryptoServiceImpl) RSAEncrypt(pub vo.RSAPubKey, in []byte) ([]byte, error) {
	if pub.PublicKey == nil {
		return nil, cryptoErr("rsa encrypt", fmt.Errorf("nil public key"))
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub.PublicKey, in, nil)
	if err != nil {
		return nil, cryptoErr("rsa encrypt", err)
	}
	return out, nil
}

func (cryptoServiceImpl) RSADecrypt(priv *vo.RSAPrivKey, in []byte) ([]byte, error) {
	if priv.RSAKey() == nil {
		return nil, cryptoErr("rsa decrypt", fmt.Errorf("nil private key"))
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv.RSAKey(), in, nil)
	if err != nil {
		return nil, cryptoErr("rsa decrypt", err)
	}
	return out, nil
}

func (cryptoServiceImpl) NewAESKey() (vo.AESKey, error) {
	k, err := vo.NewAESKey()
	if err != nil {
		return vo.AESKey{}, cryptoErr("aes key", err)
	}
	return k, nil
}

func newGCM(key vo.AESKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (cryptoServiceImpl) AESSeal(key vo.AESKey, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, cryptoErr("aes seal", err)
	}
	out := make([]byte, NonceSize, NonceSize+len(plain)+gcm.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, cryptoErr("aes seal", err)
	}
	return gcm.Seal(out, out[:NonceSize], plain, nil), nil
}

func (cryptoServiceImpl) AESOpen(key vo.AESKey, in []byte) ([]byte, error) {
	if len(in) < NonceSize {
		return nil, cryptoErr("aes open", fmt.Errorf("input shorter than nonce (%d < %d)", len(in), NonceSize))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, cryptoErr("aes open", err)
	}
	out, err := gcm.Open(nil, in[:NonceSize], in[NonceSize:], nil)
	if err != nil {
		return nil, cryptoErr("aes open", err)
	}
	return out, nil
}

func (cryptoServiceImpl) Fingerprint(pub vo.RSAPubKey) string { return pub.Fingerprint() }
