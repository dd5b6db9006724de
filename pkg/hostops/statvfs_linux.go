//go:build linux

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

	"golang.org/x/sys/unix"
)

// Statvfs reports block size, total blocks, free blocks for unprivileged
// use, and the inode equivalents for path's filesystem.
func (h *ExecHostOps) Statvfs(ctx context.Context, path string) (Stats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		if err == unix.ENOENT {
			return Stats{}, ErrNotFound
		}
		return Stats{}, fmt.Errorf("hostops: statvfs %q: %w", path, err)
	}

	return Stats{
		BlockSize:              uint64(st.Bsize),
		Blocks:                 st.Blocks,
		BlocksFreeUnprivileged: st.Bavail,
		Inodes:                 st.Files,
		InodesFreeUnprivileged: st.Ffree,
	}, nil
}
