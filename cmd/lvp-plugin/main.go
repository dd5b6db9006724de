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

// Command lvp-plugin is the node-local block-storage plugin's entry point:
// it loads the static configuration, bootstraps the chroot host-mirror,
// opens the configured VolumeStore, and serves the Identity/Controller/Node
// gRPC services over a Unix domain socket until killed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lvp-io/lvp/pkg/chroot"
	"github.com/lvp-io/lvp/pkg/config"
	"github.com/lvp-io/lvp/pkg/driver"
	"github.com/lvp-io/lvp/pkg/hostops"
	"github.com/lvp-io/lvp/pkg/metrics"
	"github.com/lvp-io/lvp/pkg/store"
	"github.com/spf13/pflag"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code, keeping os.Exit out of run itself
// so its deferred cleanup runs before main exits.
func run() int {
	fs := pflag.NewFlagSet("lvp-plugin", pflag.ExitOnError)

	serverOpts := driver.ServerOptions{}
	serverOpts.AddFlags(fs)

	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	if err := fs.Parse(os.Args[1:]); err != nil {
		klog.ErrorS(err, "failed to parse flags")
		return 1
	}

	mode, err := serverOpts.ParseMode()
	if err != nil {
		klog.ErrorS(err, "invalid --mode")
		return 1
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		klog.ErrorS(err, "failed to load configuration", "path", config.Path())
		return 1
	}
	if len(serverOpts.Topology) > 0 {
		cfg.Topology = serverOpts.Topology
	}

	// The config file's socket_path backs the endpoint unless --endpoint
	// was given explicitly.
	endpoint := serverOpts.Endpoint
	if !fs.Changed("endpoint") && cfg.SocketPath != "" {
		endpoint = "unix://" + cfg.SocketPath
	}

	ctx := context.Background()

	volStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		klog.ErrorS(err, "failed to initialize volume store")
		return 1
	}
	defer closeStore()

	runner, err := chroot.Bootstrap(ctx, cfg.ChrootBase, utilexec.New())
	if err != nil {
		klog.ErrorS(err, "failed to bootstrap chroot")
		return 1
	}
	hostOps := hostops.NewExecHostOps(runner, cfg.ChrootBase)

	recorder, _ := metrics.InitializeRecorder()
	recorder.InitializeRPCMetrics()
	recorder.InitializeHostOpMetrics()
	if cfg.MetricsAddress != "" {
		recorder.InitializeMetricsHandler(cfg.MetricsAddress, "/metrics")
	}

	if _, err := driver.InitOtelTracing(); err != nil {
		klog.ErrorS(err, "failed to initialize OpenTelemetry tracing, continuing without it")
	}

	drv := driver.NewDriver(driver.Options{
		Mode:       mode,
		Endpoint:   endpoint,
		NodeID:     cfg.NodeID,
		Topology:   cfg.Topology,
		HostPrefix: cfg.HostPrefix,
		Store:      volStore,
		HostOps:    hostOps,
	})

	if err := drv.Run(); err != nil {
		klog.ErrorS(err, "driver exited with an error")
		return 1
	}
	return 0
}

// buildStore opens the VolumeStore named by cfg.StoreBackend, returning a
// close func that is always safe to call (a no-op for backends with no
// resources to release).
func buildStore(ctx context.Context, cfg *config.Config) (store.VolumeStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendConfigMap:
		restConfig, err := rest.InClusterConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build in-cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build Kubernetes client: %w", err)
		}
		return store.NewConfigMapStore(clientset, cfg.Namespace), func() {}, nil

	default:
		boltStore, err := store.NewBoltStore(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return boltStore, func() {
			if err := boltStore.Close(); err != nil {
				klog.ErrorS(err, "failed to close volume store")
			}
		}, nil
	}
}
