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
	"errors"
)

// ErrAlreadyExists is returned by Create when a record already exists for
// the given key.
var ErrAlreadyExists = errors.New("store: volume already exists")

// VolumeStore is a keyed record store for Volume metadata. All mutations are
// atomic at the single-key granularity; concurrent callers observe a total
// order on updates to a single key.
type VolumeStore interface {
	// Create inserts v iff no record with key v.Name exists. Returns
	// ErrAlreadyExists without mutating anything if one does.
	Create(ctx context.Context, v *Volume) error

	// Update replaces the record at v.Name. The caller guarantees v.Name
	// exists; implementations may tolerate a re-insert.
	Update(ctx context.Context, v *Volume) error

	// Delete removes the record. Deleting a missing key is success.
	Delete(ctx context.Context, name string) error

	// Load returns the record, or (nil, nil) if absent.
	Load(ctx context.Context, name string) (*Volume, error)

	// List returns all records. Ordering is unspecified; callers sort.
	List(ctx context.Context) ([]*Volume, error)
}
