package stats

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
)

var _ ports.HistoryAggregator = (*Aggregator)(nil)

// Aggregator is the C13 component: rolling per-model latency and
// throughput aggregation backing the stats endpoint, generalised from
// ModelCollector's per-model xsync.Map + reservoir-sampled percentile
// tracker from endpoint stats to credential/model dispatch stats.
type Aggregator struct {
	models     *xsync.Map[string, *modelAggData]
	sampleSize int
}

type modelAggData struct {
	percentiles PercentileTracker
	total       *xsync.Counter
	successes   *xsync.Counter
	failures    atomic.Int64
}

func NewAggregator(sampleSize int) *Aggregator {
	if sampleSize <= 0 {
		sampleSize = 200
	}
	return &Aggregator{
		models:     xsync.NewMap[string, *modelAggData](),
		sampleSize: sampleSize,
	}
}

func (a *Aggregator) dataFor(model string) *modelAggData {
	d, _ := a.models.LoadOrStore(model, &modelAggData{
		percentiles: NewReservoirSampler(a.sampleSize),
		total:       xsync.NewCounter(),
		successes:   xsync.NewCounter(),
	})
	return d
}

// Observe records one dispatch outcome for a model.
func (a *Aggregator) Observe(model string, latencyMs int64, success bool) {
	d := a.dataFor(model)
	d.percentiles.Add(latencyMs)
	d.total.Inc()
	if success {
		d.successes.Inc()
	} else {
		d.failures.Add(1)
	}
}

func (a *Aggregator) Percentiles(model string) (p50, p95, p99 int64) {
	d, ok := a.models.Load(model)
	if !ok {
		return 0, 0, 0
	}
	return d.percentiles.GetPercentiles()
}

// Snapshot returns a per-model summary expressed as domain.TraceStats so
// it composes with the trace store's own stats shape on the stats
// endpoint: Count is total observations, Capacity carries the sample
// reservoir size, OldestEvicted carries the failure count.
func (a *Aggregator) Snapshot() map[string]domain.TraceStats {
	out := make(map[string]domain.TraceStats)
	a.models.Range(func(model string, d *modelAggData) bool {
		out[model] = domain.TraceStats{
			Count:         int(d.total.Value()),
			Capacity:      a.sampleSize,
			OldestEvicted: d.failures.Load(),
		}
		return true
	})
	return out
}
