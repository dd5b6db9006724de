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
	"errors"
	"path"
	"sort"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/lvp-io/lvp/pkg/hostops"
	"github.com/lvp-io/lvp/pkg/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// hostPathFor joins hostPrefix with a volume's recorded, slash-trimmed
// HostPath to produce the absolute backing path this node sees.
func (d *Driver) hostPathFor(hostPath string) string {
	return path.Join(d.hostPrefix, trimSlashes(hostPath))
}

// accessibleTopology returns the single-segment topology this plugin ever
// advertises for a volume: node=<assigned node>.
func accessibleTopology(nodeID string) []*csi.Topology {
	return []*csi.Topology{{Segments: map[string]string{topologyNodeKey: nodeID}}}
}

// CreateVolume provisions a new volume record in state Open and
// materializes its backing file (or directory, for bind volumes). A
// re-create with identical parameters returns the existing volume; a name
// collision with different parameters is AlreadyExists.
func (d *Driver) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	klog.V(4).InfoS("CreateVolume called", "name", req.GetName())

	if err := validateVolumeName(req.GetName()); err != nil {
		return nil, err
	}
	if len(req.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "volume_capabilities must not be empty")
	}
	if err := validateTopology(req.GetAccessibilityRequirements(), d.nodeID); err != nil {
		return nil, err
	}

	var hostBasePath string
	var paramFs store.Filesystem
	for k, v := range req.GetParameters() {
		switch k {
		case paramHostBasePath:
			hostBasePath = v
		case paramFsType:
			fs, err := parseFilesystem(v)
			if err != nil {
				return nil, err
			}
			paramFs = fs
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unrecognized parameter %q", k)
		}
	}

	var valid []store.VolumeConfig
	var capFs store.Filesystem
	for _, c := range req.GetVolumeCapabilities() {
		parsed, err := parseVolumeCapability(c)
		if err != nil {
			return nil, err
		}
		if parsed.fs != "" {
			if capFs != "" && capFs != parsed.fs {
				return nil, status.Error(codes.InvalidArgument, "volume capabilities disagree on fs_type")
			}
			capFs = parsed.fs
		}
		valid = append(valid, parsed.config)
	}

	fs, err := reconcileCapabilityFilesystems(paramFs, capFs)
	if err != nil {
		return nil, err
	}

	candidate := &store.Volume{
		Name:           req.GetName(),
		Size:           requestedSize(req.GetCapacityRange()),
		AssignedNodeID: d.nodeID,
		State:          store.StateOpen,
		Filesystem:     fs,
		ValidConfigs:   valid,
		HostPath:       path.Join(trimSlashes(hostBasePath), trimSlashes(req.GetName())),
		MountPaths:     []string{},
	}

	d.locks.Lock(candidate.Name)
	defer d.locks.Unlock(candidate.Name)

	err = d.store.Create(ctx, candidate)
	switch {
	case err == nil:
		if err := d.hostOps.MakeBacking(ctx, d.hostPathFor(candidate.HostPath), candidate.Size, candidate.Filesystem); err != nil {
			klog.ErrorS(err, "CreateVolume: make_backing failed, rolling back record", "name", candidate.Name)
			if delErr := d.store.Delete(ctx, candidate.Name); delErr != nil {
				klog.ErrorS(delErr, "CreateVolume: rollback delete failed", "name", candidate.Name)
			}
			return nil, status.Errorf(codes.Internal, "failed to create backing store: %v", err)
		}
		return createVolumeResponse(candidate), nil

	case errors.Is(err, store.ErrAlreadyExists):
		existing, loadErr := d.store.Load(ctx, candidate.Name)
		if loadErr != nil {
			klog.ErrorS(loadErr, "CreateVolume: load after conflict failed", "name", candidate.Name)
			return nil, status.Error(codes.Internal, "failed to load existing volume")
		}
		if existing == nil || !existing.MatchesCreateRequest(candidate) {
			return nil, status.Errorf(codes.AlreadyExists, "volume %q already exists with different parameters", candidate.Name)
		}
		return createVolumeResponse(existing), nil

	default:
		klog.ErrorS(err, "CreateVolume: store create failed", "name", candidate.Name)
		return nil, status.Error(codes.Internal, "failed to create volume record")
	}
}

func createVolumeResponse(v *store.Volume) *csi.CreateVolumeResponse {
	return &csi.CreateVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:           v.Name,
			CapacityBytes:      int64(v.Size),
			AccessibleTopology: accessibleTopology(v.AssignedNodeID),
		},
	}
}

// DeleteVolume removes an Open volume's backing store and record. The
// backing removal precedes the record deletion, so a crash in between
// leaves at worst a stale record a later delete reconciles. Deleting an
// unknown volume succeeds.
func (d *Driver) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	klog.V(4).InfoS("DeleteVolume called", "volume_id", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "DeleteVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return &csi.DeleteVolumeResponse{}, nil
	}
	if v.State != store.StateOpen {
		return nil, status.Errorf(codes.FailedPrecondition, "volume %q is not in state Open", v.Name)
	}

	if err := d.hostOps.RemoveBacking(ctx, d.hostPathFor(v.HostPath)); err != nil {
		klog.ErrorS(err, "DeleteVolume: remove_backing failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to remove backing store")
	}
	if err := d.store.Delete(ctx, v.Name); err != nil {
		klog.ErrorS(err, "DeleteVolume: store delete failed", "volume_id", v.Name)
		return nil, status.Error(codes.Internal, "failed to delete volume record")
	}

	return &csi.DeleteVolumeResponse{}, nil
}

// checkCapabilityCompat validates cap against v: the capability must
// parse, its config must be one of v's ValidConfigs, and its optional fs
// must match v's Filesystem. Incompatibility is AlreadyExists.
func checkCapabilityCompat(v *store.Volume, cap *csi.VolumeCapability) (store.VolumeConfig, error) {
	parsed, err := parseVolumeCapability(cap)
	if err != nil {
		return store.VolumeConfig{}, err
	}
	if parsed.fs != "" && parsed.fs != v.Filesystem {
		return store.VolumeConfig{}, status.Errorf(codes.AlreadyExists, "capability fs_type %q incompatible with volume %q", parsed.fs, v.Filesystem)
	}
	if !v.HasConfig(parsed.config) {
		return store.VolumeConfig{}, status.Errorf(codes.AlreadyExists, "capability mode %q not admitted at create time for volume %q", parsed.config.Mode, v.Name)
	}
	return parsed.config, nil
}

// ControllerPublishVolume admits a volume for node-publishing on its
// assigned node, recording the published config and readonly flag. A
// repeat with the same config and readonly flag is a no-op success.
func (d *Driver) ControllerPublishVolume(ctx context.Context, req *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	klog.V(4).InfoS("ControllerPublishVolume called", "volume_id", req.GetVolumeId(), "node_id", req.GetNodeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if req.GetNodeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "node_id must not be empty")
	}
	if req.GetVolumeCapability() == nil {
		return nil, status.Error(codes.InvalidArgument, "volume_capability must be provided")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "ControllerPublishVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "volume %q not found", req.GetVolumeId())
	}
	if req.GetNodeId() != v.AssignedNodeID {
		return nil, status.Errorf(codes.NotFound, "volume %q is not assigned to node %q", v.Name, req.GetNodeId())
	}

	config, err := checkCapabilityCompat(v, req.GetVolumeCapability())
	if err != nil {
		return nil, err
	}

	switch v.State {
	case store.StateNodePublished:
		return nil, status.Errorf(codes.FailedPrecondition, "volume %q is currently node-published", v.Name)

	case store.StateControllerPublished:
		if v.PublishedConfig != nil && *v.PublishedConfig == config && v.PublishedReadonly == req.GetReadonly() {
			return &csi.ControllerPublishVolumeResponse{}, nil
		}
		return nil, status.Errorf(codes.AlreadyExists, "volume %q already controller-published with incompatible parameters", v.Name)

	default: // StateOpen
		v.PublishedConfig = &config
		v.PublishedReadonly = req.GetReadonly()
		v.State = store.StateControllerPublished
		if err := d.store.Update(ctx, v); err != nil {
			klog.ErrorS(err, "ControllerPublishVolume: store update failed", "volume_id", v.Name)
			return nil, status.Error(codes.Internal, "failed to update volume record")
		}
		return &csi.ControllerPublishVolumeResponse{}, nil
	}
}

// ControllerUnpublishVolume returns a ControllerPublished volume to Open,
// clearing the published fields. Unknown and already-Open volumes succeed;
// a node-published volume must be node-unpublished first.
func (d *Driver) ControllerUnpublishVolume(ctx context.Context, req *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	klog.V(4).InfoS("ControllerUnpublishVolume called", "volume_id", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}

	d.locks.Lock(req.GetVolumeId())
	defer d.locks.Unlock(req.GetVolumeId())

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "ControllerUnpublishVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return &csi.ControllerUnpublishVolumeResponse{}, nil
	}

	switch v.State {
	case store.StateNodePublished:
		return nil, status.Errorf(codes.FailedPrecondition, "volume %q is currently node-published", v.Name)
	case store.StateOpen:
		return &csi.ControllerUnpublishVolumeResponse{}, nil
	default: // StateControllerPublished
		v.PublishedConfig = nil
		v.PublishedReadonly = false
		v.State = store.StateOpen
		if err := d.store.Update(ctx, v); err != nil {
			klog.ErrorS(err, "ControllerUnpublishVolume: store update failed", "volume_id", v.Name)
			return nil, status.Error(codes.Internal, "failed to update volume record")
		}
		return &csi.ControllerUnpublishVolumeResponse{}, nil
	}
}

// ValidateVolumeCapabilities confirms that every requested capability was
// admitted at create time and names a matching filesystem.
func (d *Driver) ValidateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	klog.V(4).InfoS("ValidateVolumeCapabilities called", "volume_id", req.GetVolumeId())

	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}
	if len(req.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "volume_capabilities must not be empty")
	}

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "ValidateVolumeCapabilities: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "volume %q not found", req.GetVolumeId())
	}

	for _, c := range req.GetVolumeCapabilities() {
		if _, err := checkCapabilityCompat(v, c); err != nil {
			return nil, err
		}
	}

	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeContext:      req.GetVolumeContext(),
			VolumeCapabilities: req.GetVolumeCapabilities(),
			Parameters:         req.GetParameters(),
		},
	}, nil
}

// ListVolumes returns all volumes in lexicographic name order. A non-empty
// starting_token must name an existing volume and the page resumes strictly
// after it; max_entries > 0 caps the page and sets next_token to the last
// included name when more remain.
func (d *Driver) ListVolumes(ctx context.Context, req *csi.ListVolumesRequest) (*csi.ListVolumesResponse, error) {
	klog.V(4).InfoS("ListVolumes called", "starting_token", req.GetStartingToken(), "max_entries", req.GetMaxEntries())

	all, err := d.store.List(ctx)
	if err != nil {
		klog.ErrorS(err, "ListVolumes: store list failed")
		return nil, status.Error(codes.Internal, "failed to list volumes")
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	start := 0
	if token := req.GetStartingToken(); token != "" {
		idx := sort.Search(len(all), func(i int) bool { return all[i].Name >= token })
		if idx >= len(all) || all[idx].Name != token {
			return nil, status.Errorf(codes.Aborted, "starting_token %q does not match any volume", token)
		}
		start = idx + 1
	}

	remaining := all[start:]
	var nextToken string
	if max := req.GetMaxEntries(); max > 0 && int(max) < len(remaining) {
		remaining = remaining[:max]
		nextToken = remaining[len(remaining)-1].Name
	}

	entries := make([]*csi.ListVolumesResponse_Entry, 0, len(remaining))
	for _, v := range remaining {
		entry := &csi.ListVolumesResponse_Entry{
			Volume: &csi.Volume{
				VolumeId:           v.Name,
				CapacityBytes:      int64(v.Size),
				AccessibleTopology: accessibleTopology(v.AssignedNodeID),
			},
		}
		if v.State == store.StateNodePublished {
			entry.Status = &csi.ListVolumesResponse_VolumeStatus{
				PublishedNodeIds: []string{v.AssignedNodeID},
			}
		}
		entries = append(entries, entry)
	}

	return &csi.ListVolumesResponse{Entries: entries, NextToken: nextToken}, nil
}

// GetCapacity reports the free bytes available to unprivileged users under
// the requested host_base_path, or zero when no base path is given.
func (d *Driver) GetCapacity(ctx context.Context, req *csi.GetCapacityRequest) (*csi.GetCapacityResponse, error) {
	hostBasePath := req.GetParameters()[paramHostBasePath]
	if hostBasePath == "" {
		return &csi.GetCapacityResponse{AvailableCapacity: 0}, nil
	}

	st, err := d.hostOps.Statvfs(ctx, d.hostPathFor(hostBasePath))
	if err != nil {
		if errors.Is(err, hostops.ErrNotFound) {
			return &csi.GetCapacityResponse{AvailableCapacity: 0}, nil
		}
		klog.ErrorS(err, "GetCapacity: statvfs failed", "host_base_path", hostBasePath)
		return nil, status.Error(codes.Internal, "failed to stat host base path")
	}

	return &csi.GetCapacityResponse{
		AvailableCapacity: int64(st.BlocksFreeUnprivileged * st.BlockSize),
	}, nil
}

// ControllerGetVolume reports a volume's capacity, accessible topology,
// and, when node-published, the publishing node.
func (d *Driver) ControllerGetVolume(ctx context.Context, req *csi.ControllerGetVolumeRequest) (*csi.ControllerGetVolumeResponse, error) {
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id must not be empty")
	}

	v, err := d.store.Load(ctx, req.GetVolumeId())
	if err != nil {
		klog.ErrorS(err, "ControllerGetVolume: load failed", "volume_id", req.GetVolumeId())
		return nil, status.Error(codes.Internal, "failed to load volume")
	}
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "volume %q not found", req.GetVolumeId())
	}

	var publishedNodeIDs []string
	if v.State == store.StateNodePublished {
		publishedNodeIDs = []string{v.AssignedNodeID}
	}

	return &csi.ControllerGetVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:           v.Name,
			CapacityBytes:      int64(v.Size),
			AccessibleTopology: accessibleTopology(v.AssignedNodeID),
		},
		Status: &csi.ControllerGetVolumeResponse_VolumeStatus{
			PublishedNodeIds: publishedNodeIDs,
		},
	}, nil
}

// ControllerGetCapabilities advertises the controller RPCs this driver
// implements.
func (d *Driver) ControllerGetCapabilities(ctx context.Context, req *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	rpcs := []csi.ControllerServiceCapability_RPC_Type{
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME,
		csi.ControllerServiceCapability_RPC_PUBLISH_UNPUBLISH_VOLUME,
		csi.ControllerServiceCapability_RPC_GET_VOLUME,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES_PUBLISHED_NODES,
		csi.ControllerServiceCapability_RPC_SINGLE_NODE_MULTI_WRITER,
		csi.ControllerServiceCapability_RPC_GET_CAPACITY,
		csi.ControllerServiceCapability_RPC_PUBLISH_READONLY,
	}

	caps := make([]*csi.ControllerServiceCapability, 0, len(rpcs))
	for _, rpc := range rpcs {
		caps = append(caps, &csi.ControllerServiceCapability{
			Type: &csi.ControllerServiceCapability_Rpc{
				Rpc: &csi.ControllerServiceCapability_RPC{Type: rpc},
			},
		})
	}

	return &csi.ControllerGetCapabilitiesResponse{Capabilities: caps}, nil
}
