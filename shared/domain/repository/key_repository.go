package repository

import vo "ikedadada/go-onion/shared/domain/value_object"

// KeyRepository persists relay keypairs keyed by relay identity.
type KeyRepository interface {
	Load(identity string) (*vo.RSAPrivKey, error)
	Save(identity string, key *vo.RSAPrivKey) error
	Close() error
}
