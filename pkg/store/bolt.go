/*
Copyright 2018 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketVolumes = []byte("volumes")

// BoltStore is a VolumeStore backed by a local embedded key-value database,
// keyed by volume name with JSON-encoded values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database at path and ensures
// the volumes bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVolumes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(ctx context.Context, v *Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		if b.Get([]byte(v.Name)) != nil {
			return ErrAlreadyExists
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: failed to encode volume %q: %w", v.Name, err)
		}
		return b.Put([]byte(v.Name), data)
	})
}

func (s *BoltStore) Update(ctx context.Context, v *Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: failed to encode volume %q: %w", v.Name, err)
		}
		return b.Put([]byte(v.Name), data)
	})
}

func (s *BoltStore) Delete(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete([]byte(name))
	})
}

func (s *BoltStore) Load(ctx context.Context, name string) (*Volume, error) {
	var v *Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumes).Get([]byte(name))
		if data == nil {
			return nil
		}
		v = &Volume{}
		return json.Unmarshal(data, v)
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to load volume %q: %w", name, err)
	}
	return v, nil
}

func (s *BoltStore) List(ctx context.Context) ([]*Volume, error) {
	var out []*Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, data []byte) error {
			v := &Volume{}
			if err := json.Unmarshal(data, v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to list volumes: %w", err)
	}
	return out, nil
}
