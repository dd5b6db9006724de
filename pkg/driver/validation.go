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
	"strings"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/lvp-io/lvp/pkg/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// validateVolumeName rejects empty names, ".", "..", and any name
// containing "../" or "/..", since the name is spliced into host paths.
func validateVolumeName(name string) error {
	if name == "" {
		return status.Error(codes.InvalidArgument, "name must not be empty")
	}
	if name == "." || name == ".." {
		return status.Errorf(codes.InvalidArgument, "name must not be %q", name)
	}
	if strings.Contains(name, "../") || strings.Contains(name, "/..") {
		return status.Errorf(codes.InvalidArgument, "name %q must not contain a path traversal segment", name)
	}
	return nil
}

// parseMode maps a CSI access mode to a VolumeMode. Unsupported modes
// return an error.
func parseMode(mode csi.VolumeCapability_AccessMode_Mode) (store.VolumeMode, error) {
	switch mode {
	case csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER:
		return store.ModeSingleNodeWriter, nil
	case csi.VolumeCapability_AccessMode_SINGLE_NODE_READER_ONLY:
		return store.ModeSingleNodeReader, nil
	case csi.VolumeCapability_AccessMode_SINGLE_NODE_SINGLE_WRITER:
		return store.ModeSingleNodeSingleWriter, nil
	case csi.VolumeCapability_AccessMode_SINGLE_NODE_MULTI_WRITER:
		return store.ModeSingleNodeMultiWriter, nil
	default:
		return "", status.Errorf(codes.InvalidArgument, "unsupported access mode %v", mode)
	}
}

// parseFilesystem maps a free-form fs_type string to a Filesystem. An
// empty string returns ("", nil): the caller decides the default.
func parseFilesystem(fsType string) (store.Filesystem, error) {
	switch strings.ToLower(fsType) {
	case "":
		return "", nil
	case "ext4":
		return store.FilesystemExt4, nil
	case "xfs":
		return store.FilesystemXfs, nil
	case "bind":
		return store.FilesystemBind, nil
	default:
		return "", status.Errorf(codes.InvalidArgument, "unsupported fs_type %q", fsType)
	}
}

// parsedCapability is a VolumeCapability reduced to the pieces this plugin
// cares about: the access mode and, if the caller pinned one, a
// filesystem.
type parsedCapability struct {
	config store.VolumeConfig
	fs     store.Filesystem // empty if unspecified
}

// parseVolumeCapability validates that cap is a mount-type capability with
// no mount flags, and extracts its access mode and optional filesystem.
func parseVolumeCapability(cap *csi.VolumeCapability) (parsedCapability, error) {
	if cap == nil {
		return parsedCapability{}, status.Error(codes.InvalidArgument, "volume capability must be provided")
	}

	mnt := cap.GetMount()
	if mnt == nil {
		return parsedCapability{}, status.Error(codes.InvalidArgument, "only mount volumes are supported")
	}
	if len(mnt.GetMountFlags()) != 0 {
		return parsedCapability{}, status.Error(codes.InvalidArgument, "mount_flags must be empty")
	}

	fs, err := parseFilesystem(mnt.GetFsType())
	if err != nil {
		return parsedCapability{}, err
	}

	accessMode := cap.GetAccessMode()
	if accessMode == nil {
		return parsedCapability{}, status.Error(codes.InvalidArgument, "access_mode must be provided")
	}
	mode, err := parseMode(accessMode.GetMode())
	if err != nil {
		return parsedCapability{}, err
	}

	return parsedCapability{config: store.VolumeConfig{Mode: mode}, fs: fs}, nil
}

// reconcileCapabilityFilesystems folds the filesystem pinned by a
// capability (if any) with the filesystem named by parameters (if any).
// Conflicting, non-empty values are rejected; an entirely unset result
// defaults to Ext4.
func reconcileCapabilityFilesystems(paramFs store.Filesystem, capFs store.Filesystem) (store.Filesystem, error) {
	switch {
	case paramFs != "" && capFs != "" && paramFs != capFs:
		return "", status.Errorf(codes.InvalidArgument, "fs_type parameter %q conflicts with capability fs_type %q", paramFs, capFs)
	case paramFs != "":
		return paramFs, nil
	case capFs != "":
		return capFs, nil
	default:
		return store.FilesystemExt4, nil
	}
}

// validateTopology enforces that, when present, accessibility requirements
// name only this node.
func validateTopology(req *csi.TopologyRequirement, nodeID string) error {
	if req == nil {
		return nil
	}
	for _, t := range req.GetRequisite() {
		if err := validateTopologySegment(t, nodeID); err != nil {
			return err
		}
	}
	for _, t := range req.GetPreferred() {
		if err := validateTopologySegment(t, nodeID); err != nil {
			return err
		}
	}
	return nil
}

func validateTopologySegment(t *csi.Topology, nodeID string) error {
	for k, v := range t.GetSegments() {
		if k != topologyNodeKey || v != nodeID {
			return status.Errorf(codes.ResourceExhausted, "topology segment %s=%s is not satisfiable by this node", k, v)
		}
	}
	return nil
}

// requestedSize returns capacity_range.required_bytes, or the default size
// when unset.
func requestedSize(cr *csi.CapacityRange) uint64 {
	if cr == nil || cr.GetRequiredBytes() <= 0 {
		return defaultVolumeSize
	}
	return uint64(cr.GetRequiredBytes())
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}
