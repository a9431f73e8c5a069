package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// fakeClock lets tests drive heartbeat arrival times deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDetector(cfg DetectorConfig) (*Detector, *Table, *fakeClock) {
	table := newTestTable("n1")
	table.Merge([]model.Member{member("n2", model.StatusActive, 0, 1)})
	detector := NewDetector(cfg, table, zap.NewNop())
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	detector.now = clock.Now
	return detector, table, clock
}

func steadyHeartbeats(d *Detector, clock *fakeClock, nodeID string, n int, interval time.Duration) {
	for i := 0; i < n; i++ {
		d.Heartbeat(nodeID)
		clock.Advance(interval)
	}
}

func TestDetector_PhiLowWhileHeartbeating(t *testing.T) {
	detector, _, clock := newTestDetector(DefaultDetectorConfig())

	steadyHeartbeats(detector, clock, "n2", 20, time.Second)

	assert.Less(t, detector.Phi("n2"), 1.0,
		"phi stays low right after a heartbeat at the usual cadence")
}

func TestDetector_PhiGrowsWithSilence(t *testing.T) {
	detector, _, clock := newTestDetector(DefaultDetectorConfig())
	steadyHeartbeats(detector, clock, "n2", 20, time.Second)

	clock.Advance(2 * time.Second)
	mid := detector.Phi("n2")
	clock.Advance(20 * time.Second)
	late := detector.Phi("n2")

	assert.Greater(t, late, mid, "phi is monotone in silence")
	assert.Greater(t, late, 8.0)
}

func TestDetector_EvaluateSuspectsThenDowns(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.DownAfter = 10 * time.Second
	detector, table, clock := newTestDetector(cfg)
	steadyHeartbeats(detector, clock, "n2", 20, time.Second)

	detector.Evaluate()
	m, _ := table.Member("n2")
	require.Equal(t, model.StatusActive, m.Status)

	// long silence pushes phi over the threshold
	clock.Advance(30 * time.Second)
	detector.Evaluate()
	m, _ = table.Member("n2")
	require.Equal(t, model.StatusSuspect, m.Status)

	// still silent past the down grace: down
	clock.Advance(cfg.DownAfter)
	detector.Evaluate()
	m, _ = table.Member("n2")
	assert.Equal(t, model.StatusDown, m.Status)
}

func TestDetector_HeartbeatRescindsSuspicion(t *testing.T) {
	detector, table, clock := newTestDetector(DefaultDetectorConfig())
	steadyHeartbeats(detector, clock, "n2", 20, time.Second)

	clock.Advance(30 * time.Second)
	detector.Evaluate()
	m, _ := table.Member("n2")
	require.Equal(t, model.StatusSuspect, m.Status)

	detector.Heartbeat("n2")
	m, _ = table.Member("n2")
	assert.Equal(t, model.StatusActive, m.Status)
}

func TestDetector_RumoredSuspectEscalatesToDown(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.DownAfter = 10 * time.Second
	detector, table, clock := newTestDetector(cfg)

	// the suspicion arrives as a gossip rumor, not a local phi verdict,
	// so no local suspicion timestamp exists yet
	table.Merge([]model.Member{member("n2", model.StatusSuspect, 1, 2)})
	m, _ := table.Member("n2")
	require.Equal(t, model.StatusSuspect, m.Status)

	detector.Evaluate()
	m, _ = table.Member("n2")
	require.Equal(t, model.StatusSuspect, m.Status,
		"first observation starts the down clock, no immediate escalation")

	clock.Advance(cfg.DownAfter)
	detector.Evaluate()
	m, _ = table.Member("n2")
	assert.Equal(t, model.StatusDown, m.Status,
		"a rumored suspect with no heartbeat progress still goes down")
}

func TestDetector_NoVerdictWithoutSamples(t *testing.T) {
	detector, table, _ := newTestDetector(DefaultDetectorConfig())

	assert.Zero(t, detector.Phi("n2"))
	detector.Evaluate()
	m, _ := table.Member("n2")
	assert.Equal(t, model.StatusActive, m.Status)
}
