// Copyright 2024 The Kubernetes Authors.
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

// Package metrics exposes a Prometheus registry tracking RPC and host
// command latency and error counts.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

const (
	metricsRateLimit = 5  // requests per second
	metricsRateBurst = 10
)

var (
	r    *MetricRecorder
	once sync.Once

	rpcMethods = []string{
		"CreateVolume", "DeleteVolume",
		"ControllerPublishVolume", "ControllerUnpublishVolume",
		"ValidateVolumeCapabilities", "ListVolumes", "GetCapacity", "ControllerGetVolume",
		"NodePublishVolume", "NodeUnpublishVolume", "NodeGetVolumeStats", "NodeExpandVolume", "NodeGetInfo",
	}
	hostOps = []string{
		"MakeBacking", "RemoveBacking", "Mount", "Unmount", "DetachLoop", "Grow", "Statvfs", "MakeDir", "RemoveDir",
	}
)

// MetricRecorder owns the plugin's Prometheus registry and the metric
// objects registered against it.
type MetricRecorder struct {
	registry *prometheus.Registry
	metrics  map[string]interface{}
}

// Recorder returns the singleton instance of MetricRecorder, or nil if
// InitializeRecorder has not been called.
func Recorder() *MetricRecorder {
	return r
}

// InitializeRecorder initializes the singleton MetricRecorder and returns
// it along with its registry.
func InitializeRecorder() (*MetricRecorder, *prometheus.Registry) {
	once.Do(func() {
		r = &MetricRecorder{
			registry: prometheus.NewRegistry(),
			metrics:  make(map[string]interface{}),
		}
	})
	return r, r.registry
}

// IncreaseCount increases the named counter metric by 1, registering it on
// first use.
func (m *MetricRecorder) IncreaseCount(name, helpText string, labels map[string]string) {
	if m == nil {
		return
	}

	metric, ok := m.metrics[name]
	if !ok {
		klog.V(4).InfoS("metric not found, registering", "name", name, "labels", labels)
		m.registerCounterVec(name, helpText, getLabelNames(labels))
		m.IncreaseCount(name, helpText, labels)
		return
	}

	if cv, ok := metric.(*prometheus.CounterVec); ok {
		cv.With(labels).Inc()
	} else {
		klog.V(4).InfoS("could not assert metric as CounterVec, increase skipped", "name", name)
	}
}

// ObserveHistogram records value in the named histogram metric,
// registering it on first use.
func (m *MetricRecorder) ObserveHistogram(name, helpText string, value float64, labels map[string]string, buckets []float64) {
	if m == nil {
		return
	}

	metric, ok := m.metrics[name]
	if !ok {
		klog.V(4).InfoS("metric not found, registering", "name", name, "labels", labels, "buckets", buckets)
		m.registerHistogramVec(name, helpText, getLabelNames(labels), buckets)
		m.ObserveHistogram(name, helpText, value, labels, buckets)
		return
	}

	if hv, ok := metric.(*prometheus.HistogramVec); ok {
		hv.With(labels).Observe(value)
	} else {
		klog.V(4).InfoS("could not assert metric as HistogramVec, observation skipped", "name", name)
	}
}

func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// InitializeMetricsHandler starts an HTTP server exposing the registry at
// path.
func (m *MetricRecorder) InitializeMetricsHandler(address, path string) {
	if m == nil {
		klog.InfoS("InitializeMetricsHandler: metric recorder is not initialized")
		return
	}

	limiter := rate.NewLimiter(metricsRateLimit, metricsRateBurst)
	mux := http.NewServeMux()
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
	mux.Handle(path, rateLimitMiddleware(limiter, handler))

	server := &http.Server{
		Addr:        address,
		Handler:     mux,
		ReadTimeout: 3 * time.Second,
	}

	go func() {
		klog.InfoS("metric server listening", "address", address, "path", path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "failed to start metric server", "address", address, "path", path)
		}
	}()
}

func (m *MetricRecorder) registerHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if metric, exists := m.metrics[name]; exists {
		if hv, ok := metric.(*prometheus.HistogramVec); ok {
			return hv
		}
		klog.ErrorS(nil, "metric exists but is not a HistogramVec", "name", name)
		return nil
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	m.metrics[name] = hv
	m.registry.MustRegister(hv)
	return hv
}

func (m *MetricRecorder) registerCounterVec(name, help string, labels []string) {
	if _, exists := m.metrics[name]; exists {
		return
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.metrics[name] = cv
	m.registry.MustRegister(cv)
}

func getLabelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for n := range labels {
		names = append(names, n)
	}
	return names
}

func (m *MetricRecorder) initializeWithValues(name, help string, labelName string, values []string) {
	if _, exists := m.metrics[name]; exists {
		return
	}
	metric := m.registerHistogramVec(name, help, []string{labelName}, nil)
	for _, v := range values {
		metric.WithLabelValues(v)
	}
}

// InitializeRPCMetrics pre-registers the RPC duration histogram with a
// series for every known method, so method labels are present in scrapes
// even before a given RPC has ever been called.
func (m *MetricRecorder) InitializeRPCMetrics() {
	m.initializeWithValues(RPCRequestDuration, RPCRequestDurationHelpText, "method", rpcMethods)
}

// InitializeHostOpMetrics pre-registers the host command duration
// histogram with a series for every known operation.
func (m *MetricRecorder) InitializeHostOpMetrics() {
	m.initializeWithValues(HostOpDuration, HostOpDurationHelpText, "op", hostOps)
}
