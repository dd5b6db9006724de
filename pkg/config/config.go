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

// Package config loads the plugin's static configuration from a YAML file
// named by the LVP_CONFIG environment variable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "LVP_CONFIG"

// DefaultPath is used when EnvVar is unset or empty.
const DefaultPath = "./config.yaml"

// Config is the plugin's static, load-once-at-startup configuration.
type Config struct {
	// SocketPath is the Unix domain socket the gRPC server listens on.
	SocketPath string `yaml:"socket_path"`

	// NodeID identifies this node; it is reported by NodeGetInfo and
	// recorded as a Volume's AssignedNodeID on CreateVolume.
	NodeID string `yaml:"node_id"`

	// Database is the path to the embedded key-value store file; required
	// when StoreBackend is "bolt".
	Database string `yaml:"database"`

	// HostPrefix is the base directory, under the bootstrapped chroot,
	// that volume backing files and directories are created under.
	HostPrefix string `yaml:"host_prefix"`

	// Topology is echoed back verbatim by NodeGetInfo's accessible
	// topology. ControllerGetVolume/ListVolumes do not use it: they always
	// report node=<assigned node id>. Defaults to {"node": NodeID} when
	// empty.
	Topology map[string]string `yaml:"topology"`

	// ChrootBase is the directory the startup bootstrap assembles a
	// host-mirror under before any host command runs. Defaults to
	// DefaultChrootBase when empty.
	ChrootBase string `yaml:"chroot_base"`

	// StoreBackend selects the VolumeStore implementation: "bolt" for the
	// embedded local database at Database, or "configmap" for the
	// cluster-scoped object store in Namespace. Defaults to "bolt".
	StoreBackend string `yaml:"store_backend"`

	// Namespace scopes the ConfigMap store when StoreBackend is
	// "configmap"; required in that case.
	Namespace string `yaml:"namespace"`

	// MetricsAddress, if non-empty, is the address the Prometheus
	// metrics handler listens on (e.g. ":9100").
	MetricsAddress string `yaml:"metrics_address"`
}

// DefaultChrootBase is used when ChrootBase is unset.
const DefaultChrootBase = "/var/lib/lvp/chroot"

// StoreBackendBolt and StoreBackendConfigMap name the two VolumeStore
// backends a Config may select.
const (
	StoreBackendBolt      = "bolt"
	StoreBackendConfigMap = "configmap"
)

// Path returns the configured config file path: the EnvVar value if set,
// otherwise DefaultPath.
func Path() string {
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	if len(c.Topology) == 0 {
		c.Topology = map[string]string{"node": c.NodeID}
	}
	if c.ChrootBase == "" {
		c.ChrootBase = DefaultChrootBase
	}
	if c.StoreBackend == "" {
		c.StoreBackend = StoreBackendBolt
	}

	return &c, nil
}

func (c *Config) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path is required")
	}
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if (c.StoreBackend == "" || c.StoreBackend == StoreBackendBolt) && c.Database == "" {
		return fmt.Errorf("config: database is required when store_backend is %q", StoreBackendBolt)
	}
	if c.HostPrefix == "" {
		return fmt.Errorf("config: host_prefix is required")
	}
	if c.StoreBackend != "" && c.StoreBackend != StoreBackendBolt && c.StoreBackend != StoreBackendConfigMap {
		return fmt.Errorf("config: store_backend must be %q or %q, got %q", StoreBackendBolt, StoreBackendConfigMap, c.StoreBackend)
	}
	if c.StoreBackend == StoreBackendConfigMap && c.Namespace == "" {
		return fmt.Errorf("config: namespace is required when store_backend is %q", StoreBackendConfigMap)
	}
	return nil
}
