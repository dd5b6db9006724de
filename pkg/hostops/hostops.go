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

// Package hostops is a thin, testable façade over the host commands and
// syscalls that realize a Volume record on disk: file truncation, mkfs,
// mount/umount, loop-device attach/detach/refresh, filesystem grow, and
// statvfs.
package hostops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lvp-io/lvp/pkg/store"
)

// ErrNotFound is returned when an operation targets a path or device that
// does not exist.
var ErrNotFound = errors.New("hostops: not found")

// ErrAlreadyExists is returned by MakeBacking when the backing path already
// exists.
var ErrAlreadyExists = errors.New("hostops: already exists")

// CommandFailedError wraps a non-zero exit from a host command.
type CommandFailedError struct {
	Argv     []string
	ExitCode int
	Output   string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("hostops: command %q exited %d: %s", strings.Join(e.Argv, " "), e.ExitCode, e.Output)
}

// Stats is the subset of statvfs(2) fields the plugin reports upward.
type Stats struct {
	BlockSize              uint64
	Blocks                 uint64
	BlocksFreeUnprivileged uint64
	Inodes                 uint64
	InodesFreeUnprivileged uint64
}

// HostOps is the capability interface the engines drive to realize volume
// state on the host. Every method reports either success or a typed error;
// production implementations fork/exec, test doubles record invocations and
// return scripted results.
type HostOps interface {
	// MakeBacking creates the backing path for a new volume. For
	// store.FilesystemBind it creates a directory (and parents); for other
	// filesystems it creates a regular file, truncates it to size, and runs
	// the matching mkfs.*. Intermediate failures must leave no partial file.
	MakeBacking(ctx context.Context, path string, size uint64, fs store.Filesystem) error

	// RemoveBacking removes the backing file or, for Bind volumes, the
	// directory tree at path.
	RemoveBacking(ctx context.Context, path string) error

	// Mount realizes a mount of source at target. For Bind, it bind-mounts
	// source directly and returns no loop device. Otherwise, if
	// loopDevice is non-empty it is reused; else a new loop device is
	// attached to source (direct IO, first free) and returned.
	Mount(ctx context.Context, loopDevice, source, target string, readonly bool, fs store.Filesystem) (newLoopDevice string, err error)

	// Unmount unmounts target. It does not release any loop device.
	Unmount(ctx context.Context, target string) error

	// DetachLoop releases a loop device acquired by Mount.
	DetachLoop(ctx context.Context, dev string) error

	// Grow enlarges a volume's backing store to size and extends its live
	// filesystem. A no-op for store.FilesystemBind.
	Grow(ctx context.Context, source, loopDevice string, size uint64, fs store.Filesystem) error

	// Statvfs reports filesystem usage for path.
	Statvfs(ctx context.Context, path string) (Stats, error)

	// MakeDir creates target (and parents), tolerating pre-existence.
	MakeDir(ctx context.Context, target string) error

	// RemoveDir best-effort removes an empty directory at target.
	RemoveDir(ctx context.Context, target string) error
}
