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
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kubernetes-csi/csi-test/v5/pkg/sanity"
	"github.com/lvp-io/lvp/pkg/hostops"
	"github.com/lvp-io/lvp/pkg/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TestSanity runs the upstream CSI sanity suite against a fully wired
// Driver backed by a real BoltStore and a FakeHostOps.
func TestSanity(t *testing.T) {
	dir := t.TempDir()

	targetPath := filepath.Join(dir, "mount")
	stagingPath := filepath.Join(dir, "staging")
	endpoint := "unix://" + filepath.Join(dir, "csi.sock")

	s, err := store.NewBoltStore(filepath.Join(dir, "lvp.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	drv := NewDriver(Options{
		Mode:       AllMode,
		Endpoint:   endpoint,
		NodeID:     "sanity-node",
		HostPrefix: dir,
		Store:      s,
		HostOps:    hostops.NewFakeHostOps(),
	})

	go func() {
		if err := drv.Run(); err != nil {
			panic(fmt.Sprintf("sanity driver exited: %v", err))
		}
	}()
	defer drv.Stop()

	waitForSocket(t, filepath.Join(dir, "csi.sock"))

	sanity.Test(t, sanity.TestConfig{
		TargetPath:       targetPath,
		StagingPath:      stagingPath,
		Address:          endpoint,
		CreateTargetDir:  createSanityDir,
		CreateStagingDir: createSanityDir,
		DialOptions:      []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	})
}

func createSanityDir(targetPath string) (string, error) {
	if err := os.MkdirAll(targetPath, 0755); err != nil && !os.IsExist(err) {
		return "", err
	}
	return targetPath, nil
}

// waitForSocket blocks until path is dialable, bounding the race between
// Driver.Run's listener setup and sanity.Test's first dial.
func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for socket %q", path)
}
