package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	// Verify all metrics are initialized
	if r.StorageOperationsTotal == nil {
		t.Error("StorageOperationsTotal not initialized")
	}
	if r.BufferFlushesTotal == nil {
		t.Error("BufferFlushesTotal not initialized")
	}
	if r.MemTableFlushDuration == nil {
		t.Error("MemTableFlushDuration not initialized")
	}
	if r.UptimeSeconds == nil {
		t.Error("UptimeSeconds not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	// Should return the same instance
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordStorageOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordStorageOperation("put", "success", 10*time.Millisecond)
	r.RecordStorageOperation("put", "success", 20*time.Millisecond)
	r.RecordStorageOperation("put", "error", 5*time.Millisecond)

	successCounter, err := r.StorageOperationsTotal.GetMetricWithLabelValues("put", "success")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}

	var metric dto.Metric
	if err := successCounter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Success counter = %v, want 2", metric.Counter.GetValue())
	}

	histogram, err := r.StorageOperationDuration.GetMetricWithLabelValues("put")
	if err != nil {
		t.Fatalf("Failed to get histogram: %v", err)
	}
	if err := histogram.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("Sample count = %v, want 3", metric.Histogram.GetSampleCount())
	}
}

func TestRecordBufferFlush(t *testing.T) {
	r := NewRegistry()

	r.RecordBufferFlush("full")
	r.RecordBufferFlush("full")
	r.RecordBufferFlush("drain")

	var metric dto.Metric
	full, _ := r.BufferFlushesTotal.GetMetricWithLabelValues("full")
	full.Write(&metric)
	if metric.Counter.GetValue() != 2 {
		t.Errorf("full flushes = %v, want 2", metric.Counter.GetValue())
	}

	drain, _ := r.BufferFlushesTotal.GetMetricWithLabelValues("drain")
	drain.Write(&metric)
	if metric.Counter.GetValue() != 1 {
		t.Errorf("drain flushes = %v, want 1", metric.Counter.GetValue())
	}
}

func TestRecordMemTableFlush(t *testing.T) {
	r := NewRegistry()

	r.RecordMemTableFlush(8192, 2*time.Millisecond, nil)
	r.RecordMemTableFlush(4096, 3*time.Millisecond, nil)
	r.RecordMemTableFlush(0, time.Millisecond, errors.New("disk full"))

	var metric dto.Metric
	if err := r.SegmentBytesWritten.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 12288 {
		t.Errorf("SegmentBytesWritten = %v, want 12288", metric.Counter.GetValue())
	}

	failed, _ := r.MemTableFlushesTotal.GetMetricWithLabelValues("error")
	failed.Write(&metric)
	if metric.Counter.GetValue() != 1 {
		t.Errorf("failed flushes = %v, want 1", metric.Counter.GetValue())
	}

	if err := r.MemTableFlushDuration.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("flush duration samples = %v, want 2", metric.Histogram.GetSampleCount())
	}
}

func TestRecordBloomCheck(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 5; i++ {
		r.RecordBloomCheck(false)
	}
	r.RecordBloomCheck(true)

	var metric dto.Metric
	negative, _ := r.BloomChecksTotal.GetMetricWithLabelValues("negative")
	negative.Write(&metric)
	if metric.Counter.GetValue() != 5 {
		t.Errorf("negative checks = %v, want 5", metric.Counter.GetValue())
	}

	maybe, _ := r.BloomChecksTotal.GetMetricWithLabelValues("maybe")
	maybe.Write(&metric)
	if metric.Counter.GetValue() != 1 {
		t.Errorf("maybe checks = %v, want 1", metric.Counter.GetValue())
	}
}

func TestUpdateWritePath(t *testing.T) {
	r := NewRegistry()

	r.UpdateWritePath(42, 900, 3, 3*4096, 65536)

	tests := []struct {
		name     string
		gauge    prometheus.Gauge
		expected float64
	}{
		{"BufferRecords", r.BufferRecords, 42},
		{"MemTableRecords", r.MemTableRecords, 900},
		{"StorageSegmentsTotal", r.StorageSegmentsTotal, 3},
		{"StorageDiskUsageBytes", r.StorageDiskUsageBytes, 3 * 4096},
		{"PinnedBytes", r.PinnedBytes, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var metric dto.Metric
			if err := tt.gauge.Write(&metric); err != nil {
				t.Fatalf("Failed to write metric: %v", err)
			}

			if metric.Gauge.GetValue() != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, metric.Gauge.GetValue(), tt.expected)
			}
		})
	}
}

func TestSystemMetrics(t *testing.T) {
	r := NewRegistry()

	r.UpdateSystemMetrics(time.Now().Add(-time.Minute))

	var metric dto.Metric
	if err := r.UptimeSeconds.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() < 60 {
		t.Errorf("UptimeSeconds = %v, want >= 60", metric.Gauge.GetValue())
	}

	r.SetBuildInfo("v0.1.0")
	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"go_goroutines", "onechain_build_info", "onechain_engine_uptime_seconds"} {
		if !names[want] {
			t.Errorf("metric family %s not gathered", want)
		}
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()

	if promRegistry == nil {
		t.Fatal("GetPrometheusRegistry() returned nil")
	}

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metrics) == 0 {
		t.Error("No metrics registered")
	}

	// Vec metrics only appear once a label set is used
	expectedMetrics := []string{
		"onechain_storage_segments_total",
		"onechain_memtable_records",
		"onechain_segment_bytes_written_total",
		"onechain_engine_uptime_seconds",
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		if !metricNames[expected] {
			t.Errorf("Expected metric %s not found", expected)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordStorageOperation("lookup", "success", time.Microsecond)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	counter, err := r.StorageOperationsTotal.GetMetricWithLabelValues("lookup", "success")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 1000 {
		t.Errorf("Counter = %v, want 1000", metric.Counter.GetValue())
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordStorageOperation("put", "success", time.Millisecond)
	r.RecordBloomCheck(false)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, m := range metrics {
		name := m.GetName()
		// runtime statistics keep the collector's own namespace
		if strings.HasPrefix(name, "go_") {
			continue
		}
		if !strings.HasPrefix(name, "onechain_") {
			t.Errorf("Metric %s does not have onechain_ prefix", name)
		}
	}
}

func BenchmarkRecordStorageOperation(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordStorageOperation("put", "success", 5*time.Millisecond)
	}
}

func BenchmarkRecordBloomCheck(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordBloomCheck(i%2 == 0)
	}
}
