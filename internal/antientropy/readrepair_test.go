package antientropy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
)

// capturingWriter records deliveries and signals on each one.
type capturingWriter struct {
	mu        sync.Mutex
	delivered map[string][]byte // nodeID -> key
	signal    chan struct{}
	fail      bool
}

func newCapturingWriter() *capturingWriter {
	return &capturingWriter{
		delivered: make(map[string][]byte),
		signal:    make(chan struct{}, 100),
	}
}

func (w *capturingWriter) WriteReplica(_ context.Context, nodeID string, key []byte, _ []model.ValueRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		w.signal <- struct{}{}
		return assert.AnError
	}
	w.delivered[nodeID] = key
	w.signal <- struct{}{}
	return nil
}

func (w *capturingWriter) deliveredTo(nodeID string) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivered[nodeID]
}

func awaitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for repair delivery")
	}
}

func TestRepairer_DeliversQueuedTask(t *testing.T) {
	writer := newCapturingWriter()
	repairer := NewRepairer(DefaultRepairerConfig(), writer, metrics.NewNop(), zap.NewNop())
	repairer.Start()
	defer repairer.Stop()

	ok := repairer.EnqueueRepair("n2", []byte("k1"), []model.ValueRecord{rec("v", 1)})
	require.True(t, ok)

	awaitSignal(t, writer.signal)
	assert.Equal(t, []byte("k1"), writer.deliveredTo("n2"))
}

func TestRepairer_FullQueueDropsWithoutBlocking(t *testing.T) {
	writer := newCapturingWriter()
	cfg := DefaultRepairerConfig()
	cfg.QueueSize = 1
	cfg.Workers = 1
	repairer := NewRepairer(cfg, writer, metrics.NewNop(), zap.NewNop())
	// workers not started: the queue cannot drain

	first := repairer.EnqueueRepair("n2", []byte("k1"), []model.ValueRecord{rec("v", 1)})
	second := repairer.EnqueueRepair("n2", []byte("k2"), []model.ValueRecord{rec("v", 2)})

	assert.True(t, first)
	assert.False(t, second, "a full queue drops the task instead of blocking the read path")
}

func TestRepairer_DeliveryFailureIsSwallowed(t *testing.T) {
	writer := newCapturingWriter()
	writer.fail = true
	repairer := NewRepairer(DefaultRepairerConfig(), writer, metrics.NewNop(), zap.NewNop())
	repairer.Start()
	defer repairer.Stop()

	require.True(t, repairer.EnqueueRepair("n2", []byte("k1"), []model.ValueRecord{rec("v", 1)}))
	awaitSignal(t, writer.signal)
	// Stop must not hang after a failed delivery
}
