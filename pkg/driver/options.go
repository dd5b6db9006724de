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
	"fmt"

	"github.com/spf13/pflag"
	cliflag "k8s.io/component-base/cli/flag"
)

// DefaultEndpoint is used when ServerOptions.Endpoint is left unset.
const DefaultEndpoint = "unix://tmp/lvp.sock"

// ServerOptions holds the command-line flags for the gRPC server surface,
// independent of the config-file fields that describe this node's identity
// and storage.
type ServerOptions struct {
	// Endpoint is the CSI gRPC endpoint, e.g. "unix:///run/lvp/csi.sock".
	Endpoint string

	// Mode selects which of the driver's services to register.
	Mode string

	// Topology, if any pair is set, overrides the topology map loaded from
	// the config file. Empty by default so the config file's topology (or
	// its {"node": node_id} fallback) wins.
	Topology map[string]string
}

// AddFlags registers the server's flags onto fs.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Endpoint, "endpoint", DefaultEndpoint, "CSI endpoint for the driver server")
	fs.StringVar(&o.Mode, "mode", string(AllMode), "driver mode: all, controller, or node")
	fs.Var(cliflag.NewMapStringString(&o.Topology), "topology", "Topology segments to advertise, overriding the config file. Comma-separated key=value pairs.")
}

// ParseMode validates and returns o.Mode as a Mode.
func (o *ServerOptions) ParseMode() (Mode, error) {
	switch Mode(o.Mode) {
	case AllMode, ControllerMode, NodeMode:
		return Mode(o.Mode), nil
	default:
		return "", fmt.Errorf("driver: unknown mode %q", o.Mode)
	}
}
