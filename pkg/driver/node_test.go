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

package driver

import (
	"context"
	"testing"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func publishedVolume(t *testing.T, d *Driver, name string, cap *csi.VolumeCapability) *csi.Volume {
	t.Helper()
	ctx := context.Background()
	v := createTestVolume(t, d, name, cap)
	_, err := d.ControllerPublishVolume(ctx, &csi.ControllerPublishVolumeRequest{
		VolumeId: v.GetVolumeId(), NodeId: testNodeID, VolumeCapability: cap,
	})
	require.NoError(t, err)
	return v
}

func TestNodePublishVolumeRejectsWhenNotControllerPublished(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := createTestVolume(t, d, "v1")

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestNodePublishVolumeIsIdempotent(t *testing.T) {
	d, fake := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	for i := 0; i < 2; i++ {
		_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
			VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
		})
		require.NoError(t, err)
	}

	mounts := 0
	for _, inv := range fake.Invocations {
		if inv.Op == "Mount" {
			mounts++
		}
	}
	assert.Equal(t, 1, mounts, "a repeated publish to the same target must not remount")
}

// TestNodePublishMultiWriterTwoTargets mounts a single-node multi-writer
// volume at two distinct targets and unpublishes them one at a time.
func TestNodePublishMultiWriterTwoTargets(t *testing.T) {
	d, fake := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v2", multiWriterCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: multiWriterCap(),
	})
	require.NoError(t, err)

	_, err = d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/b", VolumeCapability: multiWriterCap(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, fake.MountedSources("/mnt/a"))
	assert.NotEmpty(t, fake.MountedSources("/mnt/b"))

	_, err = d.NodeUnpublishVolume(ctx, &csi.NodeUnpublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a",
	})
	require.NoError(t, err)
	assert.Empty(t, fake.MountedSources("/mnt/a"))
	assert.NotEmpty(t, fake.MountedSources("/mnt/b"), "second target must survive unpublish of the first")

	_, err = d.NodeUnpublishVolume(ctx, &csi.NodeUnpublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/b",
	})
	require.NoError(t, err)
}

func TestNodePublishVolumeRejectsSecondTargetOnSingleWriter(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.NoError(t, err)

	_, err = d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/b", VolumeCapability: writerCap(),
	})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestNodeUnpublishVolumeIsIdempotent(t *testing.T) {
	d, _ := newTestDriver(t)
	_, err := d.NodeUnpublishVolume(context.Background(), &csi.NodeUnpublishVolumeRequest{
		VolumeId: "missing", TargetPath: "/mnt/a",
	})
	require.NoError(t, err)
}

func TestNodeUnpublishVolumeDetachesLoopOnLastTarget(t *testing.T) {
	d, fake := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.NoError(t, err)

	_, err = d.NodeUnpublishVolume(ctx, &csi.NodeUnpublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a",
	})
	require.NoError(t, err)

	detached := false
	for _, inv := range fake.Invocations {
		if inv.Op == "DetachLoop" {
			detached = true
		}
	}
	assert.True(t, detached, "unpublishing the last target must detach the loop device")
}

// TestNodeExpandVolumeIsIdempotentAboveTarget expands to a size already
// met, which must be a no-op.
func TestNodeExpandVolumeIsIdempotentAboveTarget(t *testing.T) {
	d, fake := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.NoError(t, err)

	resp, err := d.NodeExpandVolume(ctx, &csi.NodeExpandVolumeRequest{
		VolumeId: v.GetVolumeId(), VolumePath: "/mnt/a",
		CapacityRange: &csi.CapacityRange{RequiredBytes: v.GetCapacityBytes()},
	})
	require.NoError(t, err)
	assert.Equal(t, v.GetCapacityBytes(), resp.GetCapacityBytes())

	for _, inv := range fake.Invocations {
		assert.NotEqual(t, "Grow", inv.Op, "expand to a size already met must not call Grow")
	}
}

func TestNodeExpandVolumeGrowsPastCurrentSize(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.NoError(t, err)

	bigger := v.GetCapacityBytes() + (1 << 30)
	resp, err := d.NodeExpandVolume(ctx, &csi.NodeExpandVolumeRequest{
		VolumeId: v.GetVolumeId(), VolumePath: "/mnt/a",
		CapacityRange: &csi.CapacityRange{RequiredBytes: bigger},
	})
	require.NoError(t, err)
	assert.Equal(t, bigger, resp.GetCapacityBytes())
}

func TestNodeExpandVolumeRejectsUnpublishedPath(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodeExpandVolume(ctx, &csi.NodeExpandVolumeRequest{
		VolumeId: v.GetVolumeId(), VolumePath: "/mnt/never-published",
		CapacityRange: &csi.CapacityRange{RequiredBytes: 1 << 30},
	})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestNodeGetVolumeStatsRequiresPublishedPath(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := createTestVolume(t, d, "v1")

	_, err := d.NodeGetVolumeStats(ctx, &csi.NodeGetVolumeStatsRequest{
		VolumeId: v.GetVolumeId(), VolumePath: "/mnt/a",
	})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestNodeGetVolumeStatsReportsUsage(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()
	v := publishedVolume(t, d, "v1", writerCap())

	_, err := d.NodePublishVolume(ctx, &csi.NodePublishVolumeRequest{
		VolumeId: v.GetVolumeId(), TargetPath: "/mnt/a", VolumeCapability: writerCap(),
	})
	require.NoError(t, err)

	resp, err := d.NodeGetVolumeStats(ctx, &csi.NodeGetVolumeStatsRequest{
		VolumeId: v.GetVolumeId(), VolumePath: "/mnt/a",
	})
	require.NoError(t, err)
	require.Len(t, resp.GetUsage(), 2)
	assert.Equal(t, csi.VolumeUsage_BYTES, resp.GetUsage()[0].GetUnit())
}

func TestNodeGetInfoDefaultsTopologyToNodeID(t *testing.T) {
	d, _ := newTestDriver(t)
	resp, err := d.NodeGetInfo(context.Background(), &csi.NodeGetInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, testNodeID, resp.GetNodeId())
	assert.Equal(t, testNodeID, resp.GetAccessibleTopology().GetSegments()[topologyNodeKey])
}

func TestNodeGetCapabilitiesAdvertisesExpandAndMultiWriter(t *testing.T) {
	d, _ := newTestDriver(t)
	resp, err := d.NodeGetCapabilities(context.Background(), &csi.NodeGetCapabilitiesRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.GetCapabilities(), 3)
}
