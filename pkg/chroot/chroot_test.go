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

package chroot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

func scriptedExec(output string, err error) *fakeexec.FakeExec {
	fcmd := &fakeexec.FakeCmd{
		CombinedOutputScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) { return []byte(output), nil, err },
		},
	}
	return &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd {
				return fakeexec.InitFakeCmd(fcmd, cmd, args...)
			},
		},
	}
}

func TestRunnerReturnsCombinedOutput(t *testing.T) {
	run := NewRunner(scriptedExec("/dev/loop3\n", nil))

	out, err := run(context.Background(), "losetup", "--show", "-L", "-f", "/vols/a")
	require.NoError(t, err)
	assert.Equal(t, "/dev/loop3\n", out)
}

func TestRunnerWrapsNonZeroExit(t *testing.T) {
	run := NewRunner(scriptedExec("mkfs.ext4: no such file", utilexec.CodeExitError{Err: assert.AnError, Code: 1}))

	_, err := run(context.Background(), "mkfs.ext4", "/vols/a")
	require.Error(t, err)

	cfe, ok := err.(*CommandFailedError)
	require.True(t, ok, "non-zero exits must surface as CommandFailedError")
	assert.Equal(t, 1, cfe.ExitCode)
	assert.Equal(t, []string{"mkfs.ext4", "/vols/a"}, cfe.Argv)
	assert.Contains(t, cfe.Output, "no such file")
}
