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

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/lvp-io/lvp/pkg/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// NodePublishVolume mounts a controller-published volume at the requested
// target: for file-backed volumes through a loop device (attached on first
// publish, reused afterwards), for bind volumes as a bind-mount.
// Re-publishing to an already-mounted target succeeds; additional targets
// are allowed only for single-node multi-writer volumes.
func (d *Driver) NodePublishVolume(ctx context.Context, req *csi.NodePublishVolumeRequest) (*csi.NodePublishVolumeResponse, error) {
	klog.V(4).InfoS("NodePublishVolume called", "volume_id", req.GetVolumeId(), "target_path", req.GetTargetPath())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if req.GetTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "target_path must not be empty")
	}
	if req.GetVolumeCapability() == nil {
		return nil, status.Error(codes.InvalidArgument, "volume_capability must be provided")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "NodePublishVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "volume %q not found", req.GetVolumeId())
	}

	config, err := checkCapabilityCompat(v, req.GetVolumeCapability())
	if err != nil {
		return nil, err
	}

	switch v.State {
	case store.StateOpen:
		return nil, status.Errorf(codes.FailedPrecondition, "volume %q is not controller-published", v.Name)

	case store.StateNodePublished:
		if v.HasMountPath(req.GetTargetPath()) {
			return &csi.NodePublishVolumeResponse{}, nil
		}
		if v.PublishedConfig == nil || v.PublishedConfig.Mode != store.ModeSingleNodeMultiWriter {
			return nil, status.Errorf(codes.FailedPrecondition, "volume %q is not multi-writer, cannot add target %q", v.Name, req.GetTargetPath())
		}
		if *v.PublishedConfig != config {
			return nil, status.Errorf(codes.FailedPrecondition, "capability mode %q does not match published config %q", config.Mode, v.PublishedConfig.Mode)
		}

	case store.StateControllerPublished:
		// First node-publish: proceed below.
	}

	if err := d.hostOps.MakeDir(ctx, req.GetTargetPath()); err != nil {
		klog.ErrorS(err, "NodePublishVolume: make_dir failed", "target_path", req.GetTargetPath())
		return nil, status.Error(codes.Internal, "failed to create target directory")
	}

	source := d.hostPathFor(v.HostPath)
	newDev, err := d.hostOps.Mount(ctx, v.LoopDevice, source, req.GetTargetPath(), req.GetReadonly(), v.Filesystem)
	if err != nil {
		klog.ErrorS(err, "NodePublishVolume: mount failed", "volume_id", v.Name, "target_path", req.GetTargetPath())
		return nil, status.Error(codes.Internal, "failed to mount volume")
	}

	if v.LoopDevice == "" && newDev != "" {
		v.LoopDevice = newDev
	}
	v.MountPaths = append(v.MountPaths, req.GetTargetPath())
	v.State = store.StateNodePublished
	if err := d.store.Update(ctx, v); err != nil {
		klog.ErrorS(err, "NodePublishVolume: store update failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to update volume record")
	}

	return &csi.NodePublishVolumeResponse{}, nil
}

// NodeUnpublishVolume unmounts target and drops it from the volume's mount
// paths. When the last target goes away the volume returns to
// ControllerPublished and its loop device, if any, is detached. An unknown
// volume or target succeeds.
func (d *Driver) NodeUnpublishVolume(ctx context.Context, req *csi.NodeUnpublishVolumeRequest) (*csi.NodeUnpublishVolumeResponse, error) {
	klog.V(4).InfoS("NodeUnpublishVolume called", "volume_id", req.GetVolumeId(), "target_path", req.GetTargetPath())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if req.GetTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "target_path must not be empty")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "NodeUnpublishVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil || v.State != store.StateNodePublished || !v.HasMountPath(req.GetTargetPath()) {
		return &csi.NodeUnpublishVolumeResponse{}, nil
	}

	if err := d.hostOps.Unmount(ctx, req.GetTargetPath()); err != nil {
		klog.ErrorS(err, "NodeUnpublishVolume: unmount failed", "volume_id", v.Name, "target_path", req.GetTargetPath())
		return nil, status.Error(codes.Internal, "failed to unmount volume")
	}

	v.RemoveMountPath(req.GetTargetPath())
	if len(v.MountPaths) == 0 {
		v.State = store.StateControllerPublished
		if v.LoopDevice != "" {
			if err := d.hostOps.DetachLoop(ctx, v.LoopDevice); err != nil {
				// The filesystem is already unmounted; the transition must
				// still complete, so a stuck loop device is logged and
				// swallowed rather than blocking the record update.
				klog.ErrorS(err, "NodeUnpublishVolume: detach_loop failed, continuing", "volume_id", v.Name, "loop_device", v.LoopDevice)
			}
			v.LoopDevice = ""
		}
	}

	if err := d.store.Update(ctx, v); err != nil {
		klog.ErrorS(err, "NodeUnpublishVolume: store update failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to update volume record")
	}

	if err := d.hostOps.RemoveDir(ctx, req.GetTargetPath()); err != nil {
		klog.V(4).InfoS("NodeUnpublishVolume: best-effort rmdir failed, ignoring", "target_path", req.GetTargetPath(), "err", err)
	}

	return &csi.NodeUnpublishVolumeResponse{}, nil
}

// NodeGetVolumeStats reports byte and inode usage for a published mount
// path.
func (d *Driver) NodeGetVolumeStats(ctx context.Context, req *csi.NodeGetVolumeStatsRequest) (*csi.NodeGetVolumeStatsResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if req.GetVolumePath() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_path must not be empty")
	}

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "NodeGetVolumeStats: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil || v.State != store.StateNodePublished || !v.HasMountPath(req.GetVolumePath()) {
		return nil, status.Errorf(codes.NotFound, "volume %q is not published at %q", req.GetVolumeId(), req.GetVolumePath())
	}

	st, err := d.hostOps.Statvfs(ctx, req.GetVolumePath())
	if err != nil {
		klog.ErrorS(err, "NodeGetVolumeStats: statvfs failed", "volume_path", req.GetVolumePath())
		return nil, status.Error(codes.Internal, "failed to stat volume path")
	}

	return &csi.NodeGetVolumeStatsResponse{
		Usage: []*csi.VolumeUsage{
			{
				Unit:      csi.VolumeUsage_BYTES,
				Available: int64(st.BlocksFreeUnprivileged * st.BlockSize),
				Total:     int64(st.Blocks * st.BlockSize),
				Used:      int64((st.Blocks - st.BlocksFreeUnprivileged) * st.BlockSize),
			},
			{
				Unit:      csi.VolumeUsage_INODES,
				Available: int64(st.InodesFreeUnprivileged),
				Total:     int64(st.Inodes),
				Used:      int64(st.Inodes - st.InodesFreeUnprivileged),
			},
		},
	}, nil
}

// NodeExpandVolume grows a node-published volume's backing file, refreshes
// its loop device, and extends the live filesystem. A target size at or
// below the current size returns the current size unchanged.
func (d *Driver) NodeExpandVolume(ctx context.Context, req *csi.NodeExpandVolumeRequest) (*csi.NodeExpandVolumeResponse, error) {
	klog.V(4).InfoS("NodeExpandVolume called", "volume_id", req.GetVolumeId(), "volume_path", req.GetVolumePath())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if req.GetVolumePath() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_path must not be empty")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "NodeExpandVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil || v.State != store.StateNodePublished || !v.HasMountPath(req.GetVolumePath()) {
		return nil, status.Errorf(codes.NotFound, "volume %q is not published at %q", req.GetVolumeId(), req.GetVolumePath())
	}

	target := requestedSize(req.GetCapacityRange())
	if target <= v.Size {
		return &csi.NodeExpandVolumeResponse{CapacityBytes: int64(v.Size)}, nil
	}

	if v.Filesystem != store.FilesystemBind && v.LoopDevice == "" {
		return nil, status.Errorf(codes.NotFound, "volume %q has no loop device to grow", v.Name)
	}

	if err := d.hostOps.Grow(ctx, d.hostPathFor(v.HostPath), v.LoopDevice, target, v.Filesystem); err != nil {
		klog.ErrorS(err, "NodeExpandVolume: grow failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to grow volume")
	}

	v.Size = target
	if err := d.store.Update(ctx, v); err != nil {
		klog.ErrorS(err, "NodeExpandVolume: store update failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to update volume record")
	}

	return &csi.NodeExpandVolumeResponse{CapacityBytes: int64(v.Size)}, nil
}

// NodeGetCapabilities advertises the node RPCs this driver implements.
func (d *Driver) NodeGetCapabilities(ctx context.Context, req *csi.NodeGetCapabilitiesRequest) (*csi.NodeGetCapabilitiesResponse, error) {
	rpcs := []csi.NodeServiceCapability_RPC_Type{
		csi.NodeServiceCapability_RPC_EXPAND_VOLUME,
		csi.NodeServiceCapability_RPC_SINGLE_NODE_MULTI_WRITER,
		csi.NodeServiceCapability_RPC_GET_VOLUME_STATS,
	}

	caps := make([]*csi.NodeServiceCapability, 0, len(rpcs))
	for _, rpc := range rpcs {
		caps = append(caps, &csi.NodeServiceCapability{
			Type: &csi.NodeServiceCapability_Rpc{
				Rpc: &csi.NodeServiceCapability_RPC{Type: rpc},
			},
		})
	}

	return &csi.NodeGetCapabilitiesResponse{Capabilities: caps}, nil
}

// NodeGetInfo reports this node's id and the configured topology map,
// falling back to node=<node id> when none is configured.
func (d *Driver) NodeGetInfo(ctx context.Context, req *csi.NodeGetInfoRequest) (*csi.NodeGetInfoResponse, error) {
	topology := d.topology
	if len(topology) == 0 {
		topology = map[string]string{topologyNodeKey: d.nodeID}
	}

	return &csi.NodeGetInfoResponse{
		NodeId:             d.nodeID,
		AccessibleTopology: &csi.Topology{Segments: topology},
	}, nil
}
