// Package repository holds stores shared by more than one binary.
package repository

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

const (
	metadataBucket = "metadata"
	keysBucket     = "relay_keys"
	versionKey     = "version"
	storeVersion   = 0
)

type boltKeyRepository struct {
	sync.Mutex

	db     *bolt.DB
	closed bool
}

// NewKeyRepository creates (or loads) a bbolt key store at path. Keys are
// stored as PKCS#8 PEM under the relay identity.
func NewKeyRepository(path string) (repository.KeyRepository, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(keysBucket)); err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != storeVersion {
				return fmt.Errorf("keystore: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{storeVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &boltKeyRepository{db: db}, nil
}

func (r *boltKeyRepository) Load(identity string) (*vo.RSAPrivKey, error) {
	if identity == "" {
		return nil, repository.ErrInvalidInput
	}
	var raw []byte
	if err := r.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(keysBucket)).Get([]byte(identity)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, repository.ErrNotFound
	}
	key, err := vo.RSAPrivKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("keystore: identity %q: %w", identity, err)
	}
	return key, nil
}

func (r *boltKeyRepository) Save(identity string, key *vo.RSAPrivKey) error {
	if identity == "" || key == nil {
		return repository.ErrInvalidInput
	}
	pemBytes := key.ToPEM()
	if pemBytes == nil {
		return fmt.Errorf("keystore: identity %q: cannot encode key", identity)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysBucket)).Put([]byte(identity), pemBytes)
	})
}

func (r *boltKeyRepository) Close() error {
	r.Lock()
	defer r.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.db.Sync(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
