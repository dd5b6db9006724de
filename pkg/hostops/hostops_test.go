package hostops

import (
	"context"
	"testing"

	"github.com/lvp-io/lvp/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeHostOpsMakeBackingConflict(t *testing.T) {
	f := NewFakeHostOps()
	ctx := context.Background()

	require.NoError(t, f.MakeBacking(ctx, "/vols/a", 1024, store.FilesystemExt4))
	err := f.MakeBacking(ctx, "/vols/a", 1024, store.FilesystemExt4)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestFakeHostOpsMountAssignsLoopDevice(t *testing.T) {
	f := NewFakeHostOps()
	ctx := context.Background()

	dev, err := f.Mount(ctx, "", "/vols/a", "/mnt/a", false, store.FilesystemExt4)
	require.NoError(t, err)
	assert.NotEmpty(t, dev)
	assert.Equal(t, []string{"/vols/a"}, f.MountedSources("/mnt/a"))

	// Reusing an already-known loop device should round-trip unchanged.
	dev2, err := f.Mount(ctx, dev, "/vols/a", "/mnt/a", false, store.FilesystemExt4)
	require.NoError(t, err)
	assert.Equal(t, dev, dev2)
}

func TestFakeHostOpsMountBindHasNoLoopDevice(t *testing.T) {
	f := NewFakeHostOps()
	ctx := context.Background()

	dev, err := f.Mount(ctx, "", "/vols/dir", "/mnt/dir", false, store.FilesystemBind)
	require.NoError(t, err)
	assert.Empty(t, dev)
}

func TestFakeHostOpsInjectedFailureIsConsumedOnce(t *testing.T) {
	f := NewFakeHostOps()
	ctx := context.Background()

	wantErr := assert.AnError
	f.Failures["Unmount"] = wantErr

	err := f.Unmount(ctx, "/mnt/a")
	assert.ErrorIs(t, err, wantErr)

	// Second call should succeed: the failure was consumed.
	err = f.Unmount(ctx, "/mnt/a")
	assert.NoError(t, err)
}

func TestFakeHostOpsRecordsInvocations(t *testing.T) {
	f := NewFakeHostOps()
	ctx := context.Background()

	_ = f.MakeDir(ctx, "/mnt/a")
	_ = f.RemoveDir(ctx, "/mnt/a")

	require.Len(t, f.Invocations, 2)
	assert.Equal(t, "MakeDir", f.Invocations[0].Op)
	assert.Equal(t, "RemoveDir", f.Invocations[1].Op)
}

func TestFakeHostOpsStatvfsReportsUsableCapacity(t *testing.T) {
	f := NewFakeHostOps()
	st, err := f.Statvfs(context.Background(), "/vols/a")
	require.NoError(t, err)
	assert.Greater(t, st.Blocks, uint64(0))
	assert.Greater(t, st.BlockSize, uint64(0))
}

func TestAsCommandFailedWrapsUnrecognizedError(t *testing.T) {
	// asCommandFailed bridges chroot.Runner errors into hostops's own
	// CommandFailedError type; an unrecognized error should still come
	// back wrapped, not panic.
	got := asCommandFailed([]string{"mount", "-r", "/dev/loop0", "/mnt/a"}, assert.AnError)
	require.Error(t, got)
	assert.Contains(t, got.Error(), "running")
}
