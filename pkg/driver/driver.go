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

// Package driver implements the Identity, Controller, and Node gRPC
// services over the plugin's VolumeStore and HostOps collaborators.
package driver

import (
	"context"
	"net"
	"path"
	"time"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/lvp-io/lvp/pkg/driver/internal"
	"github.com/lvp-io/lvp/pkg/hostops"
	"github.com/lvp-io/lvp/pkg/metrics"
	"github.com/lvp-io/lvp/pkg/store"
	"github.com/lvp-io/lvp/pkg/util"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// vendorVersion is set at build time via -ldflags.
var vendorVersion = "dev"

// Driver wires together the Identity, Controller, and Node services. One
// Driver instance serves whichever of those Mode covers; on a node-local
// plugin a single process normally serves all three.
type Driver struct {
	csi.UnimplementedIdentityServer
	csi.UnimplementedControllerServer
	csi.UnimplementedNodeServer

	mode     Mode
	nodeID   string
	topology map[string]string

	store      store.VolumeStore
	hostOps    hostops.HostOps
	hostPrefix string

	locks *internal.KeyLock

	endpoint string
	srv      *grpc.Server
}

// Options bundles the values needed to construct a Driver.
type Options struct {
	Mode       Mode
	Endpoint   string
	NodeID     string
	Topology   map[string]string
	HostPrefix string
	Store      store.VolumeStore
	HostOps    hostops.HostOps
}

// NewDriver builds a Driver ready to Run.
func NewDriver(opts Options) *Driver {
	klog.InfoS("driver initialized", "name", DriverName, "mode", opts.Mode, "node_id", opts.NodeID)
	return &Driver{
		mode:       opts.Mode,
		nodeID:     opts.NodeID,
		topology:   opts.Topology,
		store:      opts.Store,
		hostOps:    opts.HostOps,
		hostPrefix: opts.HostPrefix,
		locks:      internal.NewKeyLock(),
		endpoint:   opts.Endpoint,
	}
}

// Run starts serving gRPC on the configured endpoint until Stop is called
// or Serve returns an error.
func (d *Driver) Run() error {
	scheme, addr, err := util.ParseEndpoint(d.endpoint)
	if err != nil {
		return err
	}

	listener, err := net.Listen(scheme, addr)
	if err != nil {
		return err
	}

	d.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor, metricsInterceptor),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	csi.RegisterIdentityServer(d.srv, d)
	if d.mode == AllMode || d.mode == ControllerMode {
		csi.RegisterControllerServer(d.srv, d)
	}
	if d.mode == AllMode || d.mode == NodeMode {
		csi.RegisterNodeServer(d.srv, d)
	}

	klog.InfoS("listening for connections", "address", listener.Addr().String())
	return d.srv.Serve(listener)
}

// Stop gracefully shuts down the gRPC server.
func (d *Driver) Stop() {
	klog.InfoS("stopping driver")
	d.srv.GracefulStop()
}

// loggingInterceptor logs the outcome of every RPC at a level matching its
// severity.
func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		klog.ErrorS(err, "rpc failed", "method", info.FullMethod)
	} else {
		klog.V(4).InfoS("rpc completed", "method", info.FullMethod)
	}
	return resp, err
}

// metricsInterceptor records RPC latency and error counts by gRPC method.
func metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	method := path.Base(info.FullMethod)
	labels := map[string]string{"method": method}

	if err != nil {
		recorder := metrics.Recorder()
		recorder.IncreaseCount(metrics.RPCRequestErrors, metrics.RPCRequestErrorsHelpText, map[string]string{
			"method": method,
			"code":   status.Code(err).String(),
		})
		return resp, err
	}

	metrics.Recorder().ObserveHistogram(metrics.RPCRequestDuration, metrics.RPCRequestDurationHelpText, time.Since(start).Seconds(), labels, nil)
	return resp, err
}
