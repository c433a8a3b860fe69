package detector

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent inference latencies feed Stats.
const latencyWindow = 256

// Stats summarizes an adapter's recent activity.
type Stats struct {
	Kind          Kind    `json:"kind"`
	State         string  `json:"state"`
	Requests      uint64  `json:"requests"`
	Failures      uint64  `json:"failures"`
	Timeouts      uint64  `json:"timeouts"`
	Canceled      uint64  `json:"canceled"`
	BusyRejected  uint64  `json:"busy_rejected"`
	Reinits       uint64  `json:"reinits"`
	LatencyMeanMS float64 `json:"latency_mean_ms"`
	LatencyP95MS  float64 `json:"latency_p95_ms"`
	LastLatencyMS float64 `json:"last_latency_ms"`
}

// latencyRing keeps the last latencyWindow samples in milliseconds.
type latencyRing struct {
	samples []float64
	next    int
}

func (l *latencyRing) add(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if len(l.samples) < latencyWindow {
		l.samples = append(l.samples, ms)
		return
	}
	l.samples[l.next] = ms
	l.next = (l.next + 1) % latencyWindow
}

func (l *latencyRing) last() float64 {
	if len(l.samples) == 0 {
		return 0
	}
	if len(l.samples) < latencyWindow {
		return l.samples[len(l.samples)-1]
	}
	return l.samples[(l.next+latencyWindow-1)%latencyWindow]
}

// summary returns the mean and 95th percentile of the window.
func (l *latencyRing) summary() (mean, p95 float64) {
	if len(l.samples) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(l.samples))
	copy(sorted, l.samples)
	sort.Float64s(sorted)
	return stat.Mean(sorted, nil), stat.Quantile(0.95, stat.Empirical, sorted, nil)
}
