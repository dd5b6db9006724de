// Copyright 2025 The Kubernetes Authors.
//
// Licensed under the Apache License, Version 2.0 (the 'License');
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an 'AS IS' BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

// constants for prometheus metrics use.
const (
	RPCRequestDuration         = "lvp_rpc_request_duration_seconds"
	RPCRequestDurationHelpText = "RPC request duration by method in seconds"
	RPCRequestErrors           = "lvp_rpc_request_errors_total"
	RPCRequestErrorsHelpText   = "Total number of RPC requests that returned a non-OK status, by method and code"

	HostOpDuration         = "lvp_hostop_duration_seconds"
	HostOpDurationHelpText = "Host command duration by operation in seconds"
	HostOpErrors           = "lvp_hostop_errors_total"
	HostOpErrorsHelpText   = "Total number of host commands that failed, by operation"
)
