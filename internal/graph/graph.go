// Package graph maintains the beneficiary-sharing index used by the
// cross-client fraud-ring signals (spec.md §4.8): which clients have paid a
// given beneficiary, and how concentrated a client's beneficiary set is.
package graph

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/models"
)

// index is one immutable snapshot of the bidirectional beneficiary↔client
// maps. Built fully off the live store and swapped in atomically, so readers
// never observe a partially-rebuilt graph (spec.md §4.8).
type index struct {
	// beneficiaryToClients maps a beneficiary key to every client that has
	// paid it.
	beneficiaryToClients map[models.BeneficiaryKey]map[string]struct{}
	// clientToBeneficiaries maps a client to every beneficiary it has paid.
	clientToBeneficiaries map[string]map[models.BeneficiaryKey]struct{}
}

func emptyIndex() *index {
	return &index{
		beneficiaryToClients:  make(map[models.BeneficiaryKey]map[string]struct{}),
		clientToBeneficiaries: make(map[string]map[models.BeneficiaryKey]struct{}),
	}
}

// TransactionSource supplies the edges the graph is rebuilt from — out of
// scope in detail per spec.md §1; see internal/repositories for the
// pgx-backed adapter over the transactions table.
type TransactionSource interface {
	ListClientBeneficiaryPairs(ctx context.Context) ([]ClientBeneficiaryPair, error)
}

// ClientBeneficiaryPair is one observed client→beneficiary edge.
type ClientBeneficiaryPair struct {
	ClientID       string
	BeneficiaryKey models.BeneficiaryKey
}

// Graph is the double-buffered, atomically-swapped beneficiary graph.
type Graph struct {
	current atomic.Pointer[index]
	source  TransactionSource
}

// New builds a Graph with no snapshot; IsReady() is false until the first
// Refresh completes.
func New(source TransactionSource) *Graph {
	g := &Graph{source: source}
	return g
}

// IsReady reports whether at least one refresh has completed.
func (g *Graph) IsReady() bool {
	return g.current.Load() != nil
}

// Refresh rebuilds the bidirectional index from the transaction source and
// swaps it in atomically — readers see either the old or the new snapshot,
// never a partially-built one.
func (g *Graph) Refresh(ctx context.Context) error {
	pairs, err := g.source.ListClientBeneficiaryPairs(ctx)
	if err != nil {
		return err
	}

	next := emptyIndex()
	for _, p := range pairs {
		if next.beneficiaryToClients[p.BeneficiaryKey] == nil {
			next.beneficiaryToClients[p.BeneficiaryKey] = make(map[string]struct{})
		}
		next.beneficiaryToClients[p.BeneficiaryKey][p.ClientID] = struct{}{}

		if next.clientToBeneficiaries[p.ClientID] == nil {
			next.clientToBeneficiaries[p.ClientID] = make(map[models.BeneficiaryKey]struct{})
		}
		next.clientToBeneficiaries[p.ClientID][p.BeneficiaryKey] = struct{}{}
	}

	g.current.Store(next)
	log.Info().Int("pairs", len(pairs)).Int("beneficiaries", len(next.beneficiaryToClients)).Msg("beneficiary graph refreshed")
	return nil
}

// GetOtherSenders returns every client, other than excludeClientID, that has
// paid beneKey.
func (g *Graph) GetOtherSenders(beneKey models.BeneficiaryKey, excludeClientID string) map[string]struct{} {
	out := make(map[string]struct{})
	idx := g.current.Load()
	if idx == nil {
		return out
	}
	for clientID := range idx.beneficiaryToClients[beneKey] {
		if clientID != excludeClientID {
			out[clientID] = struct{}{}
		}
	}
	return out
}

// GetFanInCount returns how many distinct clients have paid beneKey.
func (g *Graph) GetFanInCount(beneKey models.BeneficiaryKey) int {
	idx := g.current.Load()
	if idx == nil {
		return 0
	}
	return len(idx.beneficiaryToClients[beneKey])
}

// GetTotalBeneficiaryCount returns how many distinct beneficiaries clientID
// has paid.
func (g *Graph) GetTotalBeneficiaryCount(clientID string) int {
	idx := g.current.Load()
	if idx == nil {
		return 0
	}
	return len(idx.clientToBeneficiaries[clientID])
}

// GetSharedBeneficiaryCount returns how many of clientID's beneficiaries have
// also been paid by at least one other client.
func (g *Graph) GetSharedBeneficiaryCount(clientID string) int {
	idx := g.current.Load()
	if idx == nil {
		return 0
	}
	shared := 0
	for bene := range idx.clientToBeneficiaries[clientID] {
		if len(idx.beneficiaryToClients[bene]) > 1 {
			shared++
		}
	}
	return shared
}

// GetNetworkDensity returns sharedBeneficiaries(c) / max(1, totalBeneficiaries(c))
// (spec.md §4.8), in [0,1].
func (g *Graph) GetNetworkDensity(clientID string) float64 {
	total := g.GetTotalBeneficiaryCount(clientID)
	if total == 0 {
		return 0
	}
	shared := g.GetSharedBeneficiaryCount(clientID)
	return float64(shared) / float64(total)
}

// RefreshWorker periodically calls Refresh on cfg's configured interval,
// grounded on internal/scoring/worker.go's ticker/stopCh shutdown shape.
type RefreshWorker struct {
	graph    *Graph
	interval time.Duration
	stopCh   chan struct{}
}

// NewRefreshWorker builds a worker that refreshes graph every interval.
func NewRefreshWorker(graph *Graph, interval time.Duration) *RefreshWorker {
	return &RefreshWorker{graph: graph, interval: interval, stopCh: make(chan struct{})}
}

// Run blocks, refreshing on every tick until ctx is cancelled or Stop is
// called. An initial refresh runs immediately so IsReady() becomes true
// without waiting for the first tick.
func (w *RefreshWorker) Run(ctx context.Context) {
	if err := w.graph.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("beneficiary graph: initial refresh failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.graph.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("beneficiary graph: refresh failed")
			}
		}
	}
}

// Stop requests a graceful shutdown.
func (w *RefreshWorker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}
