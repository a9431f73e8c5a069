package membership

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// DetectorConfig tunes the phi-accrual failure detector.
type DetectorConfig struct {
	// PhiThreshold is the suspicion level above which a peer is marked
	// suspect. Higher values tolerate more jitter before suspecting.
	PhiThreshold float64
	// WindowSize bounds the inter-arrival sample window per peer.
	WindowSize int
	// DownAfter is how long a peer may stay suspect with no heartbeat
	// progress before it is marked down.
	DownAfter time.Duration
	// MinStdDev floors the sample standard deviation so a perfectly
	// regular heartbeat stream does not make phi explode on one late tick.
	MinStdDev time.Duration
}

// DefaultDetectorConfig returns the detector defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PhiThreshold: 8.0,
		WindowSize:   100,
		DownAfter:    30 * time.Second,
		MinStdDev:    100 * time.Millisecond,
	}
}

// arrivalWindow is a bounded ring of heartbeat inter-arrival intervals.
type arrivalWindow struct {
	intervals []float64 // seconds
	next      int
	filled    bool

	lastArrival time.Time
	suspectedAt time.Time
}

func (w *arrivalWindow) record(interval float64, capacity int) {
	if len(w.intervals) < capacity && !w.filled {
		w.intervals = append(w.intervals, interval)
		if len(w.intervals) == capacity {
			w.filled = true
			w.next = 0
		}
		return
	}
	w.intervals[w.next] = interval
	w.next = (w.next + 1) % len(w.intervals)
}

func (w *arrivalWindow) meanStdDev() (float64, float64) {
	n := float64(len(w.intervals))
	var sum float64
	for _, v := range w.intervals {
		sum += v
	}
	mean := sum / n
	var sq float64
	for _, v := range w.intervals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// Detector implements phi-accrual failure detection over heartbeat
// arrivals observed through gossip. It emits no verdicts itself; Evaluate
// applies them to the membership table.
type Detector struct {
	cfg    DetectorConfig
	table  *Table
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*arrivalWindow
}

// NewDetector creates a detector bound to table.
func NewDetector(cfg DetectorConfig, table *Table, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		table:   table,
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*arrivalWindow),
	}
}

// Heartbeat records a heartbeat arrival for nodeID. Called by the
// gossiper for every peer whose heartbeat advanced in a merge.
func (d *Detector) Heartbeat(nodeID string) {
	now := d.now()
	d.mu.Lock()
	w, ok := d.windows[nodeID]
	if !ok {
		w = &arrivalWindow{}
		d.windows[nodeID] = w
	}
	if !w.lastArrival.IsZero() {
		w.record(now.Sub(w.lastArrival).Seconds(), d.cfg.WindowSize)
	}
	w.lastArrival = now
	w.suspectedAt = time.Time{}
	d.mu.Unlock()

	// A fresh heartbeat from a suspect peer rescinds the suspicion.
	if m, ok := d.table.Member(nodeID); ok && m.Status == model.StatusSuspect {
		d.table.SetStatus(nodeID, model.StatusActive)
	}
}

// Phi returns the current suspicion level for nodeID. Zero when the peer
// has no sample history yet.
func (d *Detector) Phi(nodeID string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phiLocked(nodeID, d.now())
}

func (d *Detector) phiLocked(nodeID string, now time.Time) float64 {
	w, ok := d.windows[nodeID]
	if !ok || len(w.intervals) == 0 || w.lastArrival.IsZero() {
		return 0
	}
	mean, stddev := w.meanStdDev()
	if floor := d.cfg.MinStdDev.Seconds(); stddev < floor {
		stddev = floor
	}
	elapsed := now.Sub(w.lastArrival).Seconds()
	// phi = -log10(P(interval > elapsed)) under a normal arrival model.
	p := 0.5 * math.Erfc((elapsed-mean)/(stddev*math.Sqrt2))
	if p <= 0 {
		return math.Inf(1)
	}
	return -math.Log10(p)
}

// Evaluate recomputes phi for every tracked peer and applies status
// transitions to the table. Run on every gossip tick.
func (d *Detector) Evaluate() {
	now := d.now()

	type verdict struct {
		nodeID string
		status model.MemberStatus
		phi    float64
	}
	var verdicts []verdict

	d.mu.Lock()
	// A suspicion learned through gossip rather than a local verdict
	// carries no stamp yet; start the down clock on first observation so
	// it can still escalate here.
	for _, m := range d.table.Snapshot() {
		if m.Status != model.StatusSuspect {
			continue
		}
		w, ok := d.windows[m.NodeID]
		if !ok {
			w = &arrivalWindow{}
			d.windows[m.NodeID] = w
		}
		if w.suspectedAt.IsZero() {
			w.suspectedAt = now
		}
	}
	for nodeID, w := range d.windows {
		m, ok := d.table.Member(nodeID)
		if !ok || m.Status == model.StatusDown || m.Status == model.StatusLeaving {
			continue
		}
		phi := d.phiLocked(nodeID, now)
		switch {
		case m.Status == model.StatusActive && phi > d.cfg.PhiThreshold:
			w.suspectedAt = now
			verdicts = append(verdicts, verdict{nodeID, model.StatusSuspect, phi})
		case m.Status == model.StatusSuspect &&
			!w.suspectedAt.IsZero() && now.Sub(w.suspectedAt) >= d.cfg.DownAfter:
			verdicts = append(verdicts, verdict{nodeID, model.StatusDown, phi})
		}
	}
	d.mu.Unlock()

	for _, v := range verdicts {
		d.logger.Warn("Failure detector verdict",
			zap.String("node_id", v.nodeID),
			zap.String("status", string(v.status)),
			zap.Float64("phi", v.phi))
		d.table.SetStatus(v.nodeID, v.status)
	}
}

// Forget drops the sample window for a removed peer.
func (d *Detector) Forget(nodeID string) {
	d.mu.Lock()
	delete(d.windows, nodeID)
	d.mu.Unlock()
}
