package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// DownloadLabel identifies a download outcome series by kind and status.
type DownloadLabel struct {
	Kind   string
	Status string
}

// ProcessLabel identifies an external process run series by mode and status.
type ProcessLabel struct {
	Mode   string
	Status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// download lifecycle events, external process runs, cache activity, and sweep
// passes. It coordinates concurrent writers via a RWMutex while exposing an
// atomic gauge for active download tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	downloadEvents  map[DownloadLabel]uint64
	processRuns     map[ProcessLabel]uint64
	processDuration map[ProcessLabel]time.Duration
	cacheHits       uint64
	cacheMisses     uint64
	sweepDeletions  uint64
	activeDownloads atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		downloadEvents:  make(map[DownloadLabel]uint64),
		processRuns:     make(map[ProcessLabel]uint64),
		processDuration: make(map[ProcessLabel]time.Duration),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// DownloadStarted increments the active download gauge.
func (r *Recorder) DownloadStarted() {
	r.activeDownloads.Add(1)
}

// DownloadFinished records the outcome of a download by kind and status and
// decrements the active download gauge, guarding against negative counts when
// concurrent updates race.
func (r *Recorder) DownloadFinished(kind, status string) {
	label := DownloadLabel{Kind: normalizeName(kind), Status: normalizeName(status)}
	r.mu.Lock()
	r.downloadEvents[label]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeDownloads)
}

// ObserveProcessRun records one external process execution by mode
// (e.g. "probe", "download") and terminal status, along with its wall-clock
// duration.
func (r *Recorder) ObserveProcessRun(mode, status string, duration time.Duration) {
	label := ProcessLabel{Mode: normalizeName(mode), Status: normalizeName(status)}
	r.mu.Lock()
	r.processRuns[label]++
	r.processDuration[label] += duration
	r.mu.Unlock()
}

// CacheHit records a metadata cache hit.
func (r *Recorder) CacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

// CacheMiss records a metadata cache miss.
func (r *Recorder) CacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

// ObserveSweepDeletions adds the number of files removed by one sweep pass.
func (r *Recorder) ObserveSweepDeletions(count int) {
	if count <= 0 {
		return
	}
	r.mu.Lock()
	r.sweepDeletions += uint64(count)
	r.mu.Unlock()
}

// ActiveDownloads exposes the current gauge of concurrently running downloads.
func (r *Recorder) ActiveDownloads() int64 {
	return r.activeDownloads.Load()
}

// DownloadCounts returns a copy of the download outcome counters for testing
// and reporting purposes.
func (r *Recorder) DownloadCounts() map[DownloadLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[DownloadLabel]uint64, len(r.downloadEvents))
	for k, v := range r.downloadEvents {
		out[k] = v
	}
	return out
}

// CacheCounts returns the hit and miss counters.
func (r *Recorder) CacheCounts() (hits, misses uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheHits, r.cacheMisses
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.downloadEvents = make(map[DownloadLabel]uint64)
	r.processRuns = make(map[ProcessLabel]uint64)
	r.processDuration = make(map[ProcessLabel]time.Duration)
	r.cacheHits = 0
	r.cacheMisses = 0
	r.sweepDeletions = 0
	r.activeDownloads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	downloadLabels := r.sortedDownloadLabels()
	processLabels := r.sortedProcessLabels()

	fmt.Fprintln(w, "# HELP clipfetch_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE clipfetch_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipfetch_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipfetch_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE clipfetch_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "clipfetch_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP clipfetch_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE clipfetch_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipfetch_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipfetch_downloads_total Download outcomes by kind and status")
	fmt.Fprintln(w, "# TYPE clipfetch_downloads_total counter")
	for _, label := range downloadLabels {
		count := r.downloadEvents[label]
		fmt.Fprintf(w, "clipfetch_downloads_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP clipfetch_active_downloads Current number of downloads in flight")
	fmt.Fprintln(w, "# TYPE clipfetch_active_downloads gauge")
	fmt.Fprintf(w, "clipfetch_active_downloads %d\n", r.activeDownloads.Load())

	fmt.Fprintln(w, "# HELP clipfetch_process_runs_total External process executions by mode and status")
	fmt.Fprintln(w, "# TYPE clipfetch_process_runs_total counter")
	for _, label := range processLabels {
		count := r.processRuns[label]
		fmt.Fprintf(w, "clipfetch_process_runs_total{mode=\"%s\",status=\"%s\"} %d\n", label.Mode, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP clipfetch_process_duration_seconds_sum Cumulative wall-clock duration of external processes in seconds")
	fmt.Fprintln(w, "# TYPE clipfetch_process_duration_seconds_sum counter")
	for _, label := range processLabels {
		duration := r.processDuration[label].Seconds()
		fmt.Fprintf(w, "clipfetch_process_duration_seconds_sum{mode=\"%s\",status=\"%s\"} %f\n", label.Mode, label.Status, duration)
	}

	fmt.Fprintln(w, "# HELP clipfetch_info_cache_hits_total Metadata cache hits")
	fmt.Fprintln(w, "# TYPE clipfetch_info_cache_hits_total counter")
	fmt.Fprintf(w, "clipfetch_info_cache_hits_total %d\n", r.cacheHits)

	fmt.Fprintln(w, "# HELP clipfetch_info_cache_misses_total Metadata cache misses")
	fmt.Fprintln(w, "# TYPE clipfetch_info_cache_misses_total counter")
	fmt.Fprintf(w, "clipfetch_info_cache_misses_total %d\n", r.cacheMisses)

	fmt.Fprintln(w, "# HELP clipfetch_sweep_deletions_total Files removed by cleanup sweep passes")
	fmt.Fprintln(w, "# TYPE clipfetch_sweep_deletions_total counter")
	fmt.Fprintf(w, "clipfetch_sweep_deletions_total %d\n", r.sweepDeletions)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedDownloadLabels() []DownloadLabel {
	labels := make([]DownloadLabel, 0, len(r.downloadEvents))
	for label := range r.downloadEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedProcessLabels() []ProcessLabel {
	labels := make([]ProcessLabel, 0, len(r.processRuns))
	for label := range r.processRuns {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Mode != labels[j].Mode {
			return labels[i].Mode < labels[j].Mode
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath trims duplicate slashes and collapses identifier segments so
// metric cardinality stays bounded. Paths under /api/downloads/<id> share one
// label; /files/<name> shares another.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if strings.HasPrefix(trimmed, "/api/downloads/") {
		return "/api/downloads/:id"
	}
	if strings.HasPrefix(trimmed, "/files/") {
		return "/files/:name"
	}
	return trimmed
}
