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

const (
	// DriverName is reported by GetPluginInfo.
	DriverName = "lvp"

	// topologyNodeKey is the only accessibility-topology key this plugin
	// recognizes.
	topologyNodeKey = "node"

	// paramHostBasePath and paramFsType are the only recognized
	// CreateVolume/GetCapacity parameter keys.
	paramHostBasePath = "host_base_path"
	paramFsType       = "fs_type"

	defaultVolumeSize uint64 = 1 << 30 // 1 GiB
)

// Mode is the set of RPC surfaces a running driver process serves.
type Mode string

const (
	AllMode        Mode = "all"
	ControllerMode Mode = "controller"
	NodeMode       Mode = "node"
)
