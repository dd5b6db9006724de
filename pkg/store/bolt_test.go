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
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(filepath.Join(dir, "lvp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreCreateLoadRoundTrip(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	v := &Volume{
		Name:           "v1",
		Size:           1 << 30,
		AssignedNodeID: "node-a",
		State:          StateOpen,
		Filesystem:     FilesystemExt4,
		ValidConfigs:   []VolumeConfig{{Mode: ModeSingleNodeWriter}},
		HostPath:       "data/v1",
		MountPaths:     []string{},
	}

	require.NoError(t, s.Create(ctx, v))

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, v.Name, loaded.Name)
	assert.Equal(t, v.Size, loaded.Size)
	assert.Equal(t, v.Filesystem, loaded.Filesystem)
	assert.Equal(t, v.ValidConfigs, loaded.ValidConfigs)
}

// TestBoltStoreUpdateRoundTripsPublishFields confirms that Update persists
// every field a publish transition sets, not just the ones individual
// assertions happen to check, by diffing the whole record.
func TestBoltStoreUpdateRoundTripsPublishFields(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	v := &Volume{
		Name:           "v1",
		Size:           1 << 30,
		AssignedNodeID: "node-a",
		State:          StateOpen,
		Filesystem:     FilesystemXfs,
		ValidConfigs:   []VolumeConfig{{Mode: ModeSingleNodeMultiWriter}},
		HostPath:       "data/v1",
		MountPaths:     []string{},
	}
	require.NoError(t, s.Create(ctx, v))

	config := VolumeConfig{Mode: ModeSingleNodeMultiWriter}
	v.State = StateNodePublished
	v.PublishedConfig = &config
	v.PublishedReadonly = true
	v.LoopDevice = "/dev/loop7"
	v.MountPaths = []string{"/mnt/a", "/mnt/b"}
	require.NoError(t, s.Update(ctx, v))

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	if diff := cmp.Diff(v, loaded); diff != "" {
		t.Errorf("loaded volume diverged from what was stored (-want +got):\n%s", diff)
	}
}

func TestBoltStoreCreateConflict(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	v := &Volume{Name: "v1", State: StateOpen, MountPaths: []string{}}
	require.NoError(t, s.Create(ctx, v))

	err := s.Create(ctx, &Volume{Name: "v1", Size: 99, State: StateOpen, MountPaths: []string{}})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestBoltStoreLoadMissing(t *testing.T) {
	s := newTestBoltStore(t)
	v, err := s.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBoltStoreDeleteIsIdempotent(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, "never-existed"))

	v := &Volume{Name: "v1", State: StateOpen, MountPaths: []string{}}
	require.NoError(t, s.Create(ctx, v))
	require.NoError(t, s.Delete(ctx, "v1"))
	require.NoError(t, s.Delete(ctx, "v1"))

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBoltStoreUpdate(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	v := &Volume{Name: "v1", Size: 1, State: StateOpen, MountPaths: []string{}}
	require.NoError(t, s.Create(ctx, v))

	v.Size = 2
	v.State = StateControllerPublished
	require.NoError(t, s.Update(ctx, v))

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Size)
	assert.Equal(t, StateControllerPublished, loaded.State)
}

func TestBoltStoreList(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	names := []string{"c", "a", "b"}
	for _, n := range names {
		require.NoError(t, s.Create(ctx, &Volume{Name: n, State: StateOpen, MountPaths: []string{}}))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
