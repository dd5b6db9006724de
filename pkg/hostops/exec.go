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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lvp-io/lvp/pkg/chroot"
	"github.com/lvp-io/lvp/pkg/metrics"
	"github.com/lvp-io/lvp/pkg/store"
	"k8s.io/klog/v2"
	mountutils "k8s.io/mount-utils"
)

// recordOp reports op's latency or failure to the shared MetricRecorder.
func recordOp(op string, start time.Time, err error) {
	labels := map[string]string{"op": op}
	if err != nil {
		metrics.Recorder().IncreaseCount(metrics.HostOpErrors, metrics.HostOpErrorsHelpText, labels)
		return
	}
	metrics.Recorder().ObserveHistogram(metrics.HostOpDuration, metrics.HostOpDurationHelpText, time.Since(start).Seconds(), labels, nil)
}

// ExecHostOps is the production HostOps, running every host-affecting
// command through a chroot.Runner.
type ExecHostOps struct {
	run        chroot.Runner
	chrootBase string
	mounter    mountutils.Interface
}

// NewExecHostOps builds a HostOps that executes commands through run,
// typically the Runner returned by chroot.Bootstrap. chrootBase is the same
// directory run's commands are chrooted into; it lets Unmount resolve a
// target to the path this process (which is not itself chrooted) sees on
// the real filesystem.
func NewExecHostOps(run chroot.Runner, chrootBase string) *ExecHostOps {
	return &ExecHostOps{run: run, chrootBase: chrootBase, mounter: mountutils.New("")}
}

// isMounted reports whether target is currently a mount point. A missing
// target is "not mounted" rather than an error, since callers may probe a
// target that legitimately hasn't been created yet.
func (h *ExecHostOps) isMounted(target string) (bool, error) {
	notMnt, err := h.mounter.IsLikelyNotMountPoint(filepath.Join(h.chrootBase, target))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !notMnt, nil
}

func asCommandFailed(argv []string, err error) error {
	if cfe, ok := err.(*chroot.CommandFailedError); ok {
		return &CommandFailedError{Argv: cfe.Argv, ExitCode: cfe.ExitCode, Output: cfe.Output}
	}
	return fmt.Errorf("hostops: running %v: %w", argv, err)
}

func (h *ExecHostOps) MakeBacking(ctx context.Context, path string, size uint64, fs store.Filesystem) (err error) {
	start := time.Now()
	defer func() { recordOp("MakeBacking", start, err) }()

	if fs == store.FilesystemBind {
		if _, err := os.Stat(path); err == nil {
			return ErrAlreadyExists
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("hostops: failed to create bind directory %q: %w", path, err)
		}
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("hostops: failed to create backing file %q: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return fmt.Errorf("hostops: failed to truncate backing file %q: %w", path, err)
	}

	var mkfs string
	switch fs {
	case store.FilesystemExt4:
		mkfs = "mkfs.ext4"
	case store.FilesystemXfs:
		mkfs = "mkfs.xfs"
	default:
		os.Remove(path)
		return fmt.Errorf("hostops: unsupported filesystem %q", fs)
	}

	if _, err := h.run(ctx, mkfs, path); err != nil {
		os.Remove(path)
		return asCommandFailed([]string{mkfs, path}, err)
	}

	return nil
}

func (h *ExecHostOps) RemoveBacking(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { recordOp("RemoveBacking", start, err) }()

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("hostops: failed to remove backing %q: %w", path, err)
	}
	return nil
}

func (h *ExecHostOps) Mount(ctx context.Context, loopDevice, source, target string, readonly bool, fs store.Filesystem) (outDev string, err error) {
	start := time.Now()
	defer func() { recordOp("Mount", start, err) }()

	if fs == store.FilesystemBind {
		if _, err := h.run(ctx, "mount", "--rbind", source, target); err != nil {
			return "", asCommandFailed([]string{"mount", "--rbind", source, target}, err)
		}
		return "", nil
	}

	dev := loopDevice
	if dev == "" {
		out, err := h.run(ctx, "losetup", "--show", "-L", "-f", source)
		if err != nil {
			return "", asCommandFailed([]string{"losetup", "--show", "-L", "-f", source}, err)
		}
		dev = strings.TrimSpace(out)
	}

	argv := []string{"mount"}
	if readonly {
		argv = append(argv, "-r")
	}
	argv = append(argv, dev, target)
	if _, err := h.run(ctx, argv...); err != nil {
		return "", asCommandFailed(argv, err)
	}

	return dev, nil
}

func (h *ExecHostOps) Unmount(ctx context.Context, target string) (err error) {
	start := time.Now()
	defer func() { recordOp("Unmount", start, err) }()

	if mounted, checkErr := h.isMounted(target); checkErr == nil && !mounted {
		klog.V(4).InfoS("target is already unmounted, skipping umount", "target", target)
		return nil
	}

	if _, err := h.run(ctx, "umount", target); err != nil {
		return asCommandFailed([]string{"umount", target}, err)
	}
	return nil
}

func (h *ExecHostOps) DetachLoop(ctx context.Context, dev string) (err error) {
	start := time.Now()
	defer func() { recordOp("DetachLoop", start, err) }()

	if _, err := h.run(ctx, "losetup", "-d", dev); err != nil {
		return asCommandFailed([]string{"losetup", "-d", dev}, err)
	}
	return nil
}

func (h *ExecHostOps) Grow(ctx context.Context, source, loopDevice string, size uint64, fs store.Filesystem) (err error) {
	start := time.Now()
	defer func() { recordOp("Grow", start, err) }()

	if fs == store.FilesystemBind {
		return nil
	}

	f, err := os.OpenFile(source, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("hostops: failed to open backing file %q for grow: %w", source, err)
	}
	err = f.Truncate(int64(size))
	f.Close()
	if err != nil {
		return fmt.Errorf("hostops: failed to truncate backing file %q: %w", source, err)
	}

	if _, err := h.run(ctx, "losetup", "-c", loopDevice); err != nil {
		return asCommandFailed([]string{"losetup", "-c", loopDevice}, err)
	}

	switch fs {
	case store.FilesystemExt4:
		if _, err := h.run(ctx, "resize2fs", loopDevice); err != nil {
			return asCommandFailed([]string{"resize2fs", loopDevice}, err)
		}
	case store.FilesystemXfs:
		if _, err := h.run(ctx, "xfs_growfs", "-d", loopDevice); err != nil {
			return asCommandFailed([]string{"xfs_growfs", "-d", loopDevice}, err)
		}
	default:
		return fmt.Errorf("hostops: unsupported filesystem %q for grow", fs)
	}

	return nil
}

func (h *ExecHostOps) MakeDir(ctx context.Context, target string) (err error) {
	start := time.Now()
	defer func() { recordOp("MakeDir", start, err) }()

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("hostops: failed to create directory %q: %w", target, err)
	}
	return nil
}

func (h *ExecHostOps) RemoveDir(ctx context.Context, target string) (err error) {
	start := time.Now()
	defer func() { recordOp("RemoveDir", start, err) }()

	if err := os.Remove(target); err != nil {
		klog.V(4).InfoS("rmdir of mount target failed, ignoring", "target", target, "err", err)
	}
	return nil
}
