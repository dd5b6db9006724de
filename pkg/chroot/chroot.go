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

// Package chroot prepares a host-rooted directory that mirrors the real
// host filesystem so the plugin's host commands resolve against the host's
// actual root, independent of the plugin's own container. This runs once at
// startup, before any volume operation.
package chroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"
)

// binds lists the top-level host directories bind-mounted into the chroot
// base so host commands (mkfs, losetup, mount) find their binaries and
// libraries.
var binds = []string{"lib", "lib64", "bin", "sbin", "usr", "host", "var", "etc"}

// Runner executes a host command and returns its combined output, or a
// hostops.CommandFailedError-compatible error on non-zero exit. It is the
// seam hostops.NewExecHostOps is built on.
type Runner func(ctx context.Context, argv ...string) (string, error)

// Bootstrap bind-mounts the directories in binds from the real root into
// base, mounts a fresh devtmpfs at base/dev, and returns a Runner that
// executes commands with `chroot base` prefixed, so every subsequent
// host-affecting command resolves against the host's real root.
func Bootstrap(ctx context.Context, base string, exec utilexec.Interface) (Runner, error) {
	run := NewRunner(exec)

	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("chroot: failed to create base %q: %w", base, err)
	}

	for _, bind := range binds {
		out := filepath.Join(base, bind)
		from := filepath.Join("/", bind)
		if err := os.MkdirAll(out, 0755); err != nil {
			return nil, fmt.Errorf("chroot: failed to create bind target %q: %w", out, err)
		}
		if _, err := run(ctx, "mount", "--rbind", from, out); err != nil {
			return nil, fmt.Errorf("chroot: failed to bind-mount %q: %w", from, err)
		}
	}

	devPath := filepath.Join(base, "dev")
	if err := os.MkdirAll(devPath, 0755); err != nil {
		return nil, fmt.Errorf("chroot: failed to create %q: %w", devPath, err)
	}
	if _, err := run(ctx, "mount", "-t", "devtmpfs", "none", devPath); err != nil {
		return nil, fmt.Errorf("chroot: failed to mount devtmpfs: %w", err)
	}

	klog.InfoS("chroot bootstrap complete", "base", base)

	return func(ctx context.Context, argv ...string) (string, error) {
		return run(ctx, append([]string{"chroot", base}, argv...)...)
	}, nil
}

// NewRunner wraps exec into a bare (non-chrooted) Runner. Exposed so
// Bootstrap can run its own setup commands (which must happen outside the
// not-yet-assembled chroot) through the same logging and error shape the
// chrooted Runner uses.
func NewRunner(exec utilexec.Interface) Runner {
	return func(ctx context.Context, argv ...string) (string, error) {
		klog.V(4).InfoS("running host command", "argv", argv)
		out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		if err != nil {
			var exitCode int
			if exitErr, ok := err.(utilexec.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			}
			return string(out), &CommandFailedError{Argv: argv, ExitCode: exitCode, Output: string(out)}
		}
		return string(out), nil
	}
}

// CommandFailedError mirrors hostops.CommandFailedError; duplicated here
// (rather than imported) to keep this package free of a dependency on
// pkg/hostops, which itself depends on chroot.Runner.
type CommandFailedError struct {
	Argv     []string
	ExitCode int
	Output   string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("chroot: command %v exited %d: %s", e.Argv, e.ExitCode, e.Output)
}
