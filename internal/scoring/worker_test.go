package scoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/config"
)

func TestShardFor_IsDeterministic(t *testing.T) {
	pool := NewWorkerPool(nil, nil, config.WorkerConfig{ShardCount: 8})
	a := pool.shardFor("client-42")
	b := pool.shardFor("client-42")
	if a != b {
		t.Fatal("shardFor must route the same clientID to the same shard every time")
	}
}

func TestShardFor_DistributesAcrossShards(t *testing.T) {
	pool := NewWorkerPool(nil, nil, config.WorkerConfig{ShardCount: 4})
	seen := make(map[*Shard]bool)
	for i := 0; i < 200; i++ {
		seen[pool.shardFor(fmt.Sprintf("client-%d", i))] = true
	}
	if len(seen) < 2 {
		t.Fatalf("200 distinct clients landed on only %d shard(s), want a reasonable spread", len(seen))
	}
}

func TestNewWorkerPool_ClampsNonPositiveShardCountToOne(t *testing.T) {
	pool := NewWorkerPool(nil, nil, config.WorkerConfig{ShardCount: 0})
	if len(pool.shards) != 1 {
		t.Fatalf("len(shards) = %d, want 1 for a non-positive configured shard count", len(pool.shards))
	}
}

func TestWorkerMetrics_RecordSuccessAndFailure(t *testing.T) {
	m := &WorkerMetrics{}
	m.recordSuccess(10 * time.Millisecond)
	m.recordSuccess(20 * time.Millisecond)
	m.recordFailure()

	snap := m.snapshot()
	if snap.ProcessedCount != 2 {
		t.Fatalf("ProcessedCount = %d, want 2", snap.ProcessedCount)
	}
	if snap.FailedCount != 1 {
		t.Fatalf("FailedCount = %d, want 1", snap.FailedCount)
	}
	if snap.TotalProcessingMs != 30 {
		t.Fatalf("TotalProcessingMs = %d, want 30", snap.TotalProcessingMs)
	}
}

type fakeTransactionSource struct {
	mu        sync.Mutex
	batches   [][]QueuedTransaction
	nextIdx   int
	acked     []string
	requeued  []QueuedTransaction
	deadLettered []QueuedTransaction
}

func (f *fakeTransactionSource) Consume(ctx context.Context, consumerName string, batchSize int64, pollInterval time.Duration) ([]QueuedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextIdx >= len(f.batches) {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	b := f.batches[f.nextIdx]
	f.nextIdx++
	return b, nil
}

func (f *fakeTransactionSource) Acknowledge(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeTransactionSource) Requeue(ctx context.Context, qt QueuedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, qt)
	return nil
}

func (f *fakeTransactionSource) DeadLetter(ctx context.Context, qt QueuedTransaction, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLettered = append(f.deadLettered, qt)
	return nil
}

func TestWorkerPool_StartProcessesDispatchedBatchThenStopsCleanly(t *testing.T) {
	engine, results, _ := newTestEngine(t, testRiskConfig())
	source := &fakeTransactionSource{
		batches: [][]QueuedTransaction{
			{{ID: "1-0", Txn: txn("client-1", 1000, time.Now())}},
		},
	}
	pool := NewWorkerPool(engine, source, config.WorkerConfig{ShardCount: 2, BatchSize: 10, PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Start(ctx) }()

	// AggregatedMetrics reads through WorkerMetrics' own lock, so polling it
	// (rather than the unsynchronized recordingResults slice) avoids racing
	// with the shard goroutine that is still processing.
	waitUntil(t, func() bool {
		agg := pool.AggregatedMetrics()
		return agg["total_processed"].(int64) == 1
	})

	pool.Stop()
	cancel()
	<-done

	if len(results.saved) != 1 {
		t.Fatalf("persisted results = %d, want 1", len(results.saved))
	}

	agg := pool.AggregatedMetrics()
	if agg["total_processed"].(int64) != 1 {
		t.Fatalf("AggregatedMetrics()[total_processed] = %v, want 1", agg["total_processed"])
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
