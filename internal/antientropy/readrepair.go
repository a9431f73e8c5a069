package antientropy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
)

// Writer delivers a repair to a replica node.
type Writer interface {
	WriteReplica(ctx context.Context, nodeID string, key []byte, records []model.ValueRecord) error
}

// RepairTask is one pending read repair: push records to a replica seen
// holding a dominated or missing version.
type RepairTask struct {
	NodeID  string
	Key     []byte
	Records []model.ValueRecord
}

// RepairerConfig tunes the read repair workers.
type RepairerConfig struct {
	// QueueSize bounds pending tasks; a full queue drops new tasks.
	QueueSize int
	// Workers is the number of concurrent repair workers.
	Workers int
	// WriteTimeout bounds one repair delivery.
	WriteTimeout time.Duration
}

// DefaultRepairerConfig returns the read repair defaults.
func DefaultRepairerConfig() RepairerConfig {
	return RepairerConfig{
		QueueSize:    1000,
		Workers:      4,
		WriteTimeout: 2 * time.Second,
	}
}

// Repairer drains read repair tasks through a bounded queue so repair
// throughput never couples to read latency. Dropped tasks are fine;
// Merkle sync covers whatever read repair misses.
type Repairer struct {
	cfg     RepairerConfig
	writer  Writer
	metrics *metrics.Metrics
	logger  *zap.Logger

	queue   chan *RepairTask
	stopCh  chan struct{}
	stopped sync.WaitGroup
}

// NewRepairer wires the read repair workers.
func NewRepairer(cfg RepairerConfig, writer Writer, m *metrics.Metrics, logger *zap.Logger) *Repairer {
	return &Repairer{
		cfg:     cfg,
		writer:  writer,
		metrics: m,
		logger:  logger,
		queue:   make(chan *RepairTask, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the repair workers.
func (r *Repairer) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.stopped.Add(1)
		go r.worker(i)
	}
	r.logger.Info("Read repair workers started", zap.Int("workers", r.cfg.Workers))
}

// Stop terminates the workers and waits for them to exit. Queued tasks
// are abandoned; anti-entropy will reconverge them later.
func (r *Repairer) Stop() {
	close(r.stopCh)
	r.stopped.Wait()
	r.logger.Info("Read repair workers stopped")
}

// EnqueueRepair queues a repair without blocking. Returns false when the
// queue is full and the task was dropped.
func (r *Repairer) EnqueueRepair(nodeID string, key []byte, records []model.ValueRecord) bool {
	task := &RepairTask{
		NodeID:  nodeID,
		Key:     append([]byte(nil), key...),
		Records: records,
	}
	select {
	case r.queue <- task:
		r.metrics.RepairQueueSize.Set(float64(len(r.queue)))
		return true
	default:
		r.logger.Warn("Repair queue full, dropping task",
			zap.String("node_id", nodeID),
			zap.ByteString("key", key))
		return false
	}
}

func (r *Repairer) worker(id int) {
	defer r.stopped.Done()
	r.logger.Debug("Repair worker started", zap.Int("worker_id", id))
	for {
		select {
		case task := <-r.queue:
			r.metrics.RepairQueueSize.Set(float64(len(r.queue)))
			r.deliver(task)
		case <-r.stopCh:
			r.logger.Debug("Repair worker stopped", zap.Int("worker_id", id))
			return
		}
	}
}

func (r *Repairer) deliver(task *RepairTask) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.writer.WriteReplica(ctx, task.NodeID, task.Key, task.Records); err != nil {
		// best effort; the stale replica stays on the Merkle sync path
		r.logger.Warn("Read repair delivery failed",
			zap.String("node_id", task.NodeID),
			zap.ByteString("key", task.Key),
			zap.Error(err))
		return
	}
	r.logger.Debug("Read repair delivered",
		zap.String("node_id", task.NodeID),
		zap.ByteString("key", task.Key))
}
