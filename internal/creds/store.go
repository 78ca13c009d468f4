// Package creds persists opaque per-session credential material. The bytes
// are whatever the connection handle hands over; this layer never looks
// inside them.
package creds

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/wamux/backend/internal/session"
)

// Store is the credential persistence boundary.
type Store interface {
	// Load returns the material for a session, or nil when none is stored.
	Load(sessionID string) ([]byte, error)
	Save(sessionID string, material []byte) error
	Delete(sessionID string) error
	// List returns every session id with stored material.
	List() ([]string, error)
	Close() error
}

// BadgerStore keeps credential material in a badger KV database, one key per
// session id.
type BadgerStore struct {
	db *badger.DB
}

func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", session.ErrPersistence, path, err)
	}
	return &BadgerStore{db: db}, nil
}

func key(sessionID string) []byte {
	return []byte("creds:" + sessionID)
}

func (s *BadgerStore) Load(sessionID string) ([]byte, error) {
	var material []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(sessionID))
		if err != nil {
			return err
		}
		material, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", session.ErrPersistence, sessionID, err)
	}
	return material, nil
}

func (s *BadgerStore) Save(sessionID string, material []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(sessionID), material)
	})
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", session.ErrPersistence, sessionID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(sessionID))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", session.ErrPersistence, sessionID, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// List returns the session ids that have stored credential material. Used
// by startup restore.
func (s *BadgerStore) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("creds:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", session.ErrPersistence, err)
	}
	return ids, nil
}
