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

// Package store persists Volume records and reconciles them across retries.
package store

// Filesystem identifies the on-disk layout of a volume's backing path.
type Filesystem string

const (
	FilesystemExt4 Filesystem = "ext4"
	FilesystemXfs  Filesystem = "xfs"
	FilesystemBind Filesystem = "bind"
)

// VolumeState is the volume's position in the tri-state publish lifecycle.
type VolumeState string

const (
	StateOpen                VolumeState = "open"
	StateControllerPublished VolumeState = "controller_published"
	StateNodePublished       VolumeState = "node_published"
)

// VolumeMode is one of the four access modes a caller may request.
type VolumeMode string

const (
	ModeSingleNodeWriter       VolumeMode = "single_node_writer"
	ModeSingleNodeReader       VolumeMode = "single_node_reader"
	ModeSingleNodeSingleWriter VolumeMode = "single_node_single_writer"
	ModeSingleNodeMultiWriter  VolumeMode = "single_node_multi_writer"
)

// VolumeConfig is an access mode admitted by the caller at create time or
// requested at publish time.
type VolumeConfig struct {
	Mode VolumeMode `json:"mode"`
}

// Volume is the single persistent entity tracked by this plugin, keyed by
// Name. The record is authoritative: host reality is re-derived from it on
// every retry.
type Volume struct {
	Name              string         `json:"name"`
	Size              uint64         `json:"size"`
	AssignedNodeID    string         `json:"assigned_node_id"`
	State             VolumeState    `json:"state"`
	Filesystem        Filesystem     `json:"filesystem"`
	ValidConfigs      []VolumeConfig `json:"valid_configs"`
	HostPath          string         `json:"host_path"`
	PublishedConfig   *VolumeConfig  `json:"published_config,omitempty"`
	PublishedReadonly bool           `json:"published_readonly"`
	LoopDevice        string         `json:"loop_device,omitempty"`
	MountPaths        []string       `json:"mount_paths"`
}

// HasConfig reports whether cfg is among the capabilities admitted at
// creation time.
func (v *Volume) HasConfig(cfg VolumeConfig) bool {
	for _, c := range v.ValidConfigs {
		if c == cfg {
			return true
		}
	}
	return false
}

// MatchesCreateRequest reports whether a re-create with the given
// parameters would be an idempotent match against v.
func (v *Volume) MatchesCreateRequest(other *Volume) bool {
	if v.Filesystem != other.Filesystem ||
		v.HostPath != other.HostPath ||
		v.AssignedNodeID != other.AssignedNodeID ||
		v.Size != other.Size ||
		len(v.ValidConfigs) != len(other.ValidConfigs) {
		return false
	}
	for i := range v.ValidConfigs {
		if v.ValidConfigs[i] != other.ValidConfigs[i] {
			return false
		}
	}
	return true
}

// HasMountPath reports whether target is already a recorded mount point.
func (v *Volume) HasMountPath(target string) bool {
	for _, p := range v.MountPaths {
		if p == target {
			return true
		}
	}
	return false
}

// RemoveMountPath removes target from MountPaths, if present.
func (v *Volume) RemoveMountPath(target string) {
	out := v.MountPaths[:0]
	for _, p := range v.MountPaths {
		if p != target {
			out = append(out, p)
		}
	}
	v.MountPaths = out
}
