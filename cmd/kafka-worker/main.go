package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/queue"
)

// This worker does not score transactions — the Redis Stream worker pool
// handles that on the fast path (cmd/worker). It consumes the CDC topics
// Debezium emits off the evaluation_results and rule_weight_changes tables
// and keeps a live analytics rollup in Redis, decoupled from the scoring
// pipeline's own write path. Grounded on the teacher's cmd/kafka-worker
// (Debezium envelope parsing, consumer-group handler, periodic metrics
// reporter), re-keyed from account/merchant/channel CDC fields to
// clientId/riskLevel/action and rule-weight-change events.

// debeziumEnvelope is the standard Debezium change-event wrapper.
type debeziumEnvelope struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source debeziumSource  `json:"source"`
	Op     string          `json:"op"`
	TsMs   int64           `json:"ts_ms"`
}

type debeziumSource struct {
	Table string `json:"table"`
	LSN   int64  `json:"lsn"`
}

// evaluationResultCDC mirrors evaluation_results row shape for CDC decoding.
type evaluationResultCDC struct {
	TxnID          string  `json:"txn_id"`
	ClientID       string  `json:"client_id"`
	CompositeScore float64 `json:"composite_score"`
	RiskLevel      string  `json:"risk_level"`
	Action         string  `json:"action"`
}

// ruleWeightChangeCDC mirrors rule_weight_changes row shape for CDC decoding.
type ruleWeightChangeCDC struct {
	RuleID    string  `json:"rule_id"`
	OldWeight float64 `json:"old_weight"`
	NewWeight float64 `json:"new_weight"`
	Reason    string  `json:"reason"`
}

// rollup tracks a live count of evaluation outcomes and weight changes,
// reported on a fixed interval and mirrored into Redis for dashboard reads.
type rollup struct {
	mu                sync.Mutex
	evaluationsSeen   int64
	actionCounts      map[string]int64
	riskLevelCounts   map[string]int64
	weightChangesSeen int64
	windowStart       time.Time
}

func newRollup() *rollup {
	return &rollup{
		actionCounts:    make(map[string]int64),
		riskLevelCounts: make(map[string]int64),
		windowStart:     time.Now(),
	}
}

func (r *rollup) recordEvaluation(action, riskLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluationsSeen++
	r.actionCounts[action]++
	r.riskLevelCounts[riskLevel]++
}

func (r *rollup) recordWeightChange() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weightChangesSeen++
}

func (r *rollup) snapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{
		"evaluations_seen":    r.evaluationsSeen,
		"action_counts":       r.actionCounts,
		"risk_level_counts":   r.riskLevelCounts,
		"weight_changes_seen": r.weightChangesSeen,
		"window_start":        r.windowStart,
	}
}

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()
	if cfg.Server.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Strs("topics", cfg.Kafka.Topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("starting CDC analytics pipeline")

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cacheClient.Close()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V3_0_0_0

	var consumerGroup sarama.ConsumerGroup
	for attempt := 0; attempt < 30; attempt++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, saramaCfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("failed to connect to kafka, retrying")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	metrics := newRollup()
	handler := &analyticsHandler{metrics: metrics, cache: cacheClient}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping analytics pipeline")
		cancel()
	}()

	go handler.reportPeriodically(ctx)

	for {
		if err := consumerGroup.Consume(ctx, cfg.Kafka.Topics, handler); err != nil {
			log.Error().Err(err).Msg("error from consumer")
		}
		if ctx.Err() != nil {
			log.Info().Msg("context cancelled, analytics pipeline shutting down")
			return
		}
	}
}

type analyticsHandler struct {
	metrics *rollup
	cache   *queue.CacheClient
}

func (h *analyticsHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("analytics pipeline session started")
	return nil
}

func (h *analyticsHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("analytics pipeline session ended")
	return nil
}

func (h *analyticsHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.process(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *analyticsHandler) process(ctx context.Context, message *sarama.ConsumerMessage) {
	var envelope debeziumEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		log.Error().Err(err).Msg("failed to parse debezium envelope")
		return
	}
	if envelope.After == nil {
		return
	}

	switch envelope.Source.Table {
	case "evaluation_results":
		var row evaluationResultCDC
		if err := json.Unmarshal(envelope.After, &row); err != nil {
			log.Error().Err(err).Msg("failed to parse evaluation_results CDC payload")
			return
		}
		h.metrics.recordEvaluation(row.Action, row.RiskLevel)
		h.cache.Increment(ctx, "analytics:cdc:action:"+row.Action)
		log.Debug().Str("txn_id", row.TxnID).Str("action", row.Action).Msg("evaluation result observed")

	case "rule_weight_changes":
		var row ruleWeightChangeCDC
		if err := json.Unmarshal(envelope.After, &row); err != nil {
			log.Error().Err(err).Msg("failed to parse rule_weight_changes CDC payload")
			return
		}
		h.metrics.recordWeightChange()
		log.Info().
			Str("rule_id", row.RuleID).
			Float64("old_weight", row.OldWeight).
			Float64("new_weight", row.NewWeight).
			Str("reason", row.Reason).
			Msg("rule weight change observed")
	}
}

func (h *analyticsHandler) reportPeriodically(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.snapshot()
			if err := h.cache.Set(ctx, "analytics:cdc:rollup", snapshot, 5*time.Minute); err != nil {
				log.Warn().Err(err).Msg("failed to cache analytics rollup")
			}
			log.Info().
				Interface("action_counts", snapshot["action_counts"]).
				Interface("risk_level_counts", snapshot["risk_level_counts"]).
				Int64("weight_changes_seen", snapshot["weight_changes_seen"].(int64)).
				Msg("CDC analytics rollup")
		case <-ctx.Done():
			return
		}
	}
}
