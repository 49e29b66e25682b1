package scoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
)

// QueuedTransaction is one transaction pulled off the ingress queue, carrying
// enough queue metadata to ack/retry/dead-letter it.
type QueuedTransaction struct {
	ID         string
	Txn        models.Transaction
	RetryCount int
}

// TransactionSource is the ingress-queue boundary a Worker consumes from;
// satisfied by internal/queue's Redis Streams adapter.
type TransactionSource interface {
	Consume(ctx context.Context, consumerName string, batchSize int64, pollInterval time.Duration) ([]QueuedTransaction, error)
	Acknowledge(ctx context.Context, ids []string) error
	Requeue(ctx context.Context, qt QueuedTransaction) error
	DeadLetter(ctx context.Context, qt QueuedTransaction, cause error) error
}

// WorkerMetrics tracks one shard's throughput.
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

func (m *WorkerMetrics) recordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedCount++
	m.TotalProcessingMs += d.Milliseconds()
	m.LastProcessedAt = time.Now()
}

func (m *WorkerMetrics) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedCount++
}

func (m *WorkerMetrics) snapshot() WorkerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    m.ProcessedCount,
		FailedCount:       m.FailedCount,
		TotalProcessingMs: m.TotalProcessingMs,
		LastProcessedAt:   m.LastProcessedAt,
	}
}

// Shard is one single-writer lane of the sharded worker pool (spec.md §9,
// option a): every transaction whose clientId hashes to this shard is
// evaluated strictly in arrival order, guaranteeing the EWMA/Welford
// determinism spec.md §5 requires, while shards run fully in parallel.
type Shard struct {
	id      int
	engine  *Engine
	inbox   chan QueuedTransaction
	metrics *WorkerMetrics
	done    chan struct{}
}

func newShard(id int, engine *Engine, queueDepth int) *Shard {
	return &Shard{
		id:      id,
		engine:  engine,
		inbox:   make(chan QueuedTransaction, queueDepth),
		metrics: &WorkerMetrics{},
		done:    make(chan struct{}),
	}
}

func (s *Shard) run(ctx context.Context, source TransactionSource) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case qt, ok := <-s.inbox:
			if !ok {
				return
			}
			s.process(ctx, source, qt)
		}
	}
}

func (s *Shard) process(ctx context.Context, source TransactionSource, qt QueuedTransaction) {
	start := time.Now()
	_, err := s.engine.EvaluateTransaction(ctx, qt.Txn)
	if err != nil {
		s.metrics.recordFailure()
		log.Error().Err(err).Str("txn_id", qt.Txn.TxnID).Int("shard", s.id).Msg("transaction evaluation failed")
		if source != nil {
			if qt.RetryCount < 3 {
				qt.RetryCount++
				if rerr := source.Requeue(ctx, qt); rerr != nil {
					log.Error().Err(rerr).Msg("failed to requeue transaction")
				}
			} else if derr := source.DeadLetter(ctx, qt, err); derr != nil {
				log.Error().Err(derr).Msg("failed to dead-letter transaction")
			}
		}
		return
	}
	s.metrics.recordSuccess(time.Since(start))
}

// WorkerPool is the sharded per-client evaluation pool: a single dispatcher
// goroutine consumes the ingress queue and routes each transaction to
// shard = hash(clientId) mod shardCount, so every client's transactions are
// serialized on exactly one shard.
type WorkerPool struct {
	engine *Engine
	source TransactionSource
	shards []*Shard
	cfg    config.WorkerConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorkerPool builds a pool with cfg.ShardCount shards.
func NewWorkerPool(engine *Engine, source TransactionSource, cfg config.WorkerConfig) *WorkerPool {
	shardCount := cfg.ShardCount
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*Shard, shardCount)
	for i := range shards {
		shards[i] = newShard(i, engine, cfg.BatchSize*2)
	}
	return &WorkerPool{
		engine: engine,
		source: source,
		shards: shards,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// shardFor hashes a clientId onto one of the pool's shards.
func (p *WorkerPool) shardFor(clientID string) *Shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

// Start launches every shard's processing goroutine plus the dispatcher loop
// that pulls batches off the ingress queue. It blocks until ctx is cancelled
// or Stop is called; in-flight evaluations run to completion before Start
// returns (spec.md §5's cancellation contract).
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("shard_count", len(p.shards)).Msg("starting sharded evaluation worker pool")

	for _, shard := range p.shards {
		p.wg.Add(1)
		go func(s *Shard) {
			defer p.wg.Done()
			s.run(ctx, p.source)
		}(shard)
	}

	consumerName := fmt.Sprintf("dispatcher-%d", time.Now().UnixNano())
	for {
		select {
		case <-p.stopCh:
			return p.shutdown()
		case <-ctx.Done():
			return p.shutdown()
		default:
			p.dispatchBatch(ctx, consumerName)
		}
	}
}

func (p *WorkerPool) dispatchBatch(ctx context.Context, consumerName string) {
	batch, err := p.source.Consume(ctx, consumerName, int64(p.cfg.BatchSize), p.cfg.PollInterval)
	if err != nil {
		log.Error().Err(err).Msg("failed to consume from ingress queue")
		time.Sleep(time.Second)
		return
	}
	if len(batch) == 0 {
		return
	}

	ackIDs := make([]string, 0, len(batch))
	for _, qt := range batch {
		p.shardFor(qt.Txn.ClientID).inbox <- qt
		ackIDs = append(ackIDs, qt.ID)
	}
	if err := p.source.Acknowledge(ctx, ackIDs); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge consumed batch")
	}
}

func (p *WorkerPool) shutdown() error {
	for _, s := range p.shards {
		close(s.inbox)
	}
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
	return nil
}

// Stop requests a graceful shutdown; Start's dispatcher loop honors it
// between ticks and shards drain their inbox before exiting.
func (p *WorkerPool) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// AggregatedMetrics sums every shard's counters for the thin HTTP surface's
// operational-status endpoint.
func (p *WorkerPool) AggregatedMetrics() map[string]interface{} {
	var processed, failed, totalMs int64
	var lastAt time.Time
	for _, s := range p.shards {
		m := s.metrics.snapshot()
		processed += m.ProcessedCount
		failed += m.FailedCount
		totalMs += m.TotalProcessingMs
		if m.LastProcessedAt.After(lastAt) {
			lastAt = m.LastProcessedAt
		}
	}
	avgMs := float64(0)
	if processed > 0 {
		avgMs = float64(totalMs) / float64(processed)
	}
	return map[string]interface{}{
		"total_processed":   processed,
		"total_failed":      failed,
		"avg_processing_ms": avgMs,
		"last_processed_at": lastAt,
		"shard_count":       len(p.shards),
	}
}
