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

package hostops

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lvp-io/lvp/pkg/store"
)

// Invocation records one call made against a FakeHostOps, for assertions in
// engine tests that care what the plugin actually did to the host.
type Invocation struct {
	Op   string
	Args []string
}

// FakeHostOps is a HostOps test double that tracks backing paths, mounts,
// and loop devices in memory instead of touching the real host.
type FakeHostOps struct {
	mu sync.Mutex

	// Failures lets a test force the named operation to fail once per call
	// by operation name; consumed on use.
	Failures map[string]error

	Invocations []Invocation

	backing map[string]bool            // path -> exists
	mounts  map[string]map[string]bool // target -> set of sources mounted there
	loops   map[string]string          // device -> source
}

// NewFakeHostOps builds an empty FakeHostOps.
func NewFakeHostOps() *FakeHostOps {
	return &FakeHostOps{
		Failures: map[string]error{},
		backing:  map[string]bool{},
		mounts:   map[string]map[string]bool{},
		loops:    map[string]string{},
	}
}

func (f *FakeHostOps) takeFailure(op string) error {
	if err, ok := f.Failures[op]; ok {
		delete(f.Failures, op)
		return err
	}
	return nil
}

func (f *FakeHostOps) record(op string, args ...string) {
	f.Invocations = append(f.Invocations, Invocation{Op: op, Args: args})
}

func (f *FakeHostOps) MakeBacking(ctx context.Context, path string, size uint64, fs store.Filesystem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MakeBacking", path, fmt.Sprint(size), string(fs))
	if err := f.takeFailure("MakeBacking"); err != nil {
		return err
	}
	if f.backing[path] {
		return ErrAlreadyExists
	}
	f.backing[path] = true
	return nil
}

func (f *FakeHostOps) RemoveBacking(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveBacking", path)
	if err := f.takeFailure("RemoveBacking"); err != nil {
		return err
	}
	delete(f.backing, path)
	return nil
}

func (f *FakeHostOps) Mount(ctx context.Context, loopDevice, source, target string, readonly bool, fs store.Filesystem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Mount", loopDevice, source, target, fmt.Sprint(readonly), string(fs))
	if err := f.takeFailure("Mount"); err != nil {
		return "", err
	}

	if f.mounts[target] == nil {
		f.mounts[target] = map[string]bool{}
	}
	f.mounts[target][source] = true

	if fs == store.FilesystemBind {
		return "", nil
	}

	if loopDevice != "" {
		return loopDevice, nil
	}
	dev := "/dev/loop" + uuid.NewString()[:4]
	f.loops[dev] = source
	return dev, nil
}

func (f *FakeHostOps) Unmount(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Unmount", target)
	if err := f.takeFailure("Unmount"); err != nil {
		return err
	}
	delete(f.mounts, target)
	return nil
}

func (f *FakeHostOps) DetachLoop(ctx context.Context, dev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DetachLoop", dev)
	if err := f.takeFailure("DetachLoop"); err != nil {
		return err
	}
	delete(f.loops, dev)
	return nil
}

func (f *FakeHostOps) Grow(ctx context.Context, source, loopDevice string, size uint64, fs store.Filesystem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Grow", source, loopDevice, fmt.Sprint(size), string(fs))
	return f.takeFailure("Grow")
}

func (f *FakeHostOps) Statvfs(ctx context.Context, path string) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Statvfs", path)
	if err := f.takeFailure("Statvfs"); err != nil {
		return Stats{}, err
	}
	return Stats{
		BlockSize:              4096,
		Blocks:                 1 << 20,
		BlocksFreeUnprivileged: 1 << 19,
		Inodes:                 1 << 16,
		InodesFreeUnprivileged: 1 << 15,
	}, nil
}

func (f *FakeHostOps) MakeDir(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MakeDir", target)
	return f.takeFailure("MakeDir")
}

func (f *FakeHostOps) RemoveDir(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveDir", target)
	return f.takeFailure("RemoveDir")
}

// MountedSources returns the sources currently mounted at target, for test
// assertions.
func (f *FakeHostOps) MountedSources(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for src := range f.mounts[target] {
		out = append(out, src)
	}
	return out
}
