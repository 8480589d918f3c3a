package metrics

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	startTime time.Time

	httpRequests atomic.Int64
	httpFailed   atomic.Int64

	storeOpsTotal  atomic.Int64
	storeOpsFailed atomic.Int64

	flushesTotal  atomic.Int64
	flushesFailed atomic.Int64

	snapshotsTotal  atomic.Int64
	snapshotsFailed atomic.Int64

	upstreamRequests atomic.Int64
	upstreamFailed   atomic.Int64
	upstreamRejected atomic.Int64

	responseTimes     []time.Duration
	responseTimesLock sync.Mutex

	collectionOps  map[string]*atomic.Int64
	collectionLock sync.Mutex
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	return &Metrics{
		startTime:     time.Now(),
		responseTimes: make([]time.Duration, 0, 1000),
		collectionOps: make(map[string]*atomic.Int64),
	}
}

func (m *Metrics) RecordHTTPRequest(success bool) {
	m.httpRequests.Add(1)
	if !success {
		m.httpFailed.Add(1)
	}
}

func (m *Metrics) RecordStoreOp(collection string, success bool) {
	m.storeOpsTotal.Add(1)
	if !success {
		m.storeOpsFailed.Add(1)
	}

	m.collectionLock.Lock()
	defer m.collectionLock.Unlock()
	if m.collectionOps[collection] == nil {
		m.collectionOps[collection] = &atomic.Int64{}
	}
	m.collectionOps[collection].Add(1)
}

func (m *Metrics) RecordFlush(success bool) {
	m.flushesTotal.Add(1)
	if !success {
		m.flushesFailed.Add(1)
	}
}

func (m *Metrics) RecordSnapshot(success bool) {
	m.snapshotsTotal.Add(1)
	if !success {
		m.snapshotsFailed.Add(1)
	}
}

func (m *Metrics) RecordUpstream(success bool) {
	m.upstreamRequests.Add(1)
	if !success {
		m.upstreamFailed.Add(1)
	}
}

func (m *Metrics) RecordUpstreamRejected() {
	m.upstreamRejected.Add(1)
}

func (m *Metrics) RecordResponseTime(d time.Duration) {
	m.responseTimesLock.Lock()
	defer m.responseTimesLock.Unlock()

	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
}

type Snapshot struct {
	Uptime           time.Duration    `json:"uptime"`
	HTTPRequests     int64            `json:"http_requests"`
	HTTPFailed       int64            `json:"http_failed"`
	StoreOpsTotal    int64            `json:"store_ops_total"`
	StoreOpsFailed   int64            `json:"store_ops_failed"`
	FlushesTotal     int64            `json:"flushes_total"`
	FlushesFailed    int64            `json:"flushes_failed"`
	SnapshotsTotal   int64            `json:"snapshots_total"`
	SnapshotsFailed  int64            `json:"snapshots_failed"`
	UpstreamRequests int64            `json:"upstream_requests"`
	UpstreamFailed   int64            `json:"upstream_failed"`
	UpstreamRejected int64            `json:"upstream_rejected"`
	AvgResponseTime  time.Duration    `json:"avg_response_time"`
	P99ResponseTime  time.Duration    `json:"p99_response_time"`
	CollectionOps    map[string]int64 `json:"collection_ops"`
}

func (m *Metrics) Snapshot() *Snapshot {
	s := &Snapshot{
		Uptime:           time.Since(m.startTime),
		HTTPRequests:     m.httpRequests.Load(),
		HTTPFailed:       m.httpFailed.Load(),
		StoreOpsTotal:    m.storeOpsTotal.Load(),
		StoreOpsFailed:   m.storeOpsFailed.Load(),
		FlushesTotal:     m.flushesTotal.Load(),
		FlushesFailed:    m.flushesFailed.Load(),
		SnapshotsTotal:   m.snapshotsTotal.Load(),
		SnapshotsFailed:  m.snapshotsFailed.Load(),
		UpstreamRequests: m.upstreamRequests.Load(),
		UpstreamFailed:   m.upstreamFailed.Load(),
		UpstreamRejected: m.upstreamRejected.Load(),
		CollectionOps:    make(map[string]int64),
	}

	m.responseTimesLock.Lock()
	if len(m.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range m.responseTimes {
			total += rt
		}
		s.AvgResponseTime = total / time.Duration(len(m.responseTimes))

		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		for i := 0; i < len(sorted)-1; i++ {
			for j := i + 1; j < len(sorted); j++ {
				if sorted[j] < sorted[i] {
					sorted[i], sorted[j] = sorted[j], sorted[i]
				}
			}
		}
		p99Index := int(float64(len(sorted)) * 0.99)
		if p99Index >= len(sorted) {
			p99Index = len(sorted) - 1
		}
		s.P99ResponseTime = sorted[p99Index]
	}
	m.responseTimesLock.Unlock()

	m.collectionLock.Lock()
	for k, v := range m.collectionOps {
		s.CollectionOps[k] = v.Load()
	}
	m.collectionLock.Unlock()

	return s
}

func (m *Metrics) Prometheus() string {
	var sb strings.Builder

	counter := func(name, help string, value int64) {
		sb.WriteString("# HELP " + name + " " + help + "\n")
		sb.WriteString("# TYPE " + name + " counter\n")
		sb.WriteString(name + " " + strconv.FormatInt(value, 10) + "\n\n")
	}

	sb.WriteString("# HELP clinicore_uptime_seconds Time since process start\n")
	sb.WriteString("# TYPE clinicore_uptime_seconds gauge\n")
	sb.WriteString("clinicore_uptime_seconds " + strconv.FormatInt(int64(time.Since(m.startTime).Seconds()), 10) + "\n\n")

	counter("clinicore_http_requests_total", "Total HTTP requests served", m.httpRequests.Load())
	counter("clinicore_http_requests_failed", "HTTP requests answered with 5xx", m.httpFailed.Load())
	counter("clinicore_store_ops_total", "Total record store operations", m.storeOpsTotal.Load())
	counter("clinicore_store_ops_failed", "Record store operations that degraded to a no-op", m.storeOpsFailed.Load())
	counter("clinicore_flushes_total", "Document flushes to the persistence backend", m.flushesTotal.Load())
	counter("clinicore_flushes_failed", "Failed document flushes", m.flushesFailed.Load())
	counter("clinicore_snapshots_total", "Snapshot exports", m.snapshotsTotal.Load())
	counter("clinicore_snapshots_failed", "Failed snapshot exports", m.snapshotsFailed.Load())
	counter("clinicore_upstream_requests_total", "Requests proxied to the clinical API", m.upstreamRequests.Load())
	counter("clinicore_upstream_requests_failed", "Failed upstream requests", m.upstreamFailed.Load())
	counter("clinicore_upstream_rejected_total", "Upstream requests rejected by breaker or rate limit", m.upstreamRejected.Load())

	m.collectionLock.Lock()
	for collection, count := range m.collectionOps {
		sb.WriteString("# HELP clinicore_collection_ops_total Operations per collection\n")
		sb.WriteString("# TYPE clinicore_collection_ops_total counter\n")
		sb.WriteString("clinicore_collection_ops_total{collection=\"" + collection + "\"} " + strconv.FormatInt(count.Load(), 10) + "\n\n")
	}
	m.collectionLock.Unlock()

	return sb.String()
}

func RecordHTTPRequest(success bool) {
	Default().RecordHTTPRequest(success)
}

func RecordStoreOp(collection string, success bool) {
	Default().RecordStoreOp(collection, success)
}

func RecordFlush(success bool) {
	Default().RecordFlush(success)
}

func RecordSnapshot(success bool) {
	Default().RecordSnapshot(success)
}

func RecordUpstream(success bool) {
	Default().RecordUpstream(success)
}

func RecordUpstreamRejected() {
	Default().RecordUpstreamRejected()
}

func RecordResponseTime(d time.Duration) {
	Default().RecordResponseTime(d)
}

func Prometheus() string {
	return Default().Prometheus()
}
