//go:build !linux

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
	"errors"
)

// Statvfs is unsupported outside Linux: loop devices, mkfs.ext4/xfs,
// losetup, and devtmpfs chroot bind-mounts are all Linux-specific
// mechanisms this plugin depends on.
func (h *ExecHostOps) Statvfs(ctx context.Context, path string) (Stats, error) {
	return Stats{}, errors.New("hostops: statvfs is only supported on linux")
}
