package graph

import (
	"context"
	"testing"
)

type fakeSource struct {
	pairs []ClientBeneficiaryPair
	err   error
}

func (f *fakeSource) ListClientBeneficiaryPairs(ctx context.Context) ([]ClientBeneficiaryPair, error) {
	return f.pairs, f.err
}

func TestGraph_NotReadyBeforeFirstRefresh(t *testing.T) {
	g := New(&fakeSource{})
	if g.IsReady() {
		t.Fatal("IsReady = true before any Refresh has run")
	}
	if g.GetFanInCount("bene-1") != 0 {
		t.Fatal("queries against an unrefreshed graph must return zero values, not panic")
	}
}

func TestGraph_Refresh_BuildsBidirectionalIndex(t *testing.T) {
	source := &fakeSource{pairs: []ClientBeneficiaryPair{
		{ClientID: "c1", BeneficiaryKey: "b1"},
		{ClientID: "c2", BeneficiaryKey: "b1"},
		{ClientID: "c1", BeneficiaryKey: "b2"},
	}}
	g := New(source)
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsReady() {
		t.Fatal("IsReady = false after a successful Refresh")
	}

	if got := g.GetFanInCount("b1"); got != 2 {
		t.Fatalf("GetFanInCount(b1) = %d, want 2", got)
	}
	if got := g.GetTotalBeneficiaryCount("c1"); got != 2 {
		t.Fatalf("GetTotalBeneficiaryCount(c1) = %d, want 2", got)
	}

	others := g.GetOtherSenders("b1", "c1")
	if len(others) != 1 {
		t.Fatalf("GetOtherSenders(b1, exclude=c1) = %v, want exactly {c2}", others)
	}
	if _, ok := others["c2"]; !ok {
		t.Fatalf("GetOtherSenders(b1, exclude=c1) = %v, want c2 present", others)
	}
}

func TestGraph_SharedBeneficiaryCountAndDensity(t *testing.T) {
	source := &fakeSource{pairs: []ClientBeneficiaryPair{
		{ClientID: "c1", BeneficiaryKey: "shared"},
		{ClientID: "c2", BeneficiaryKey: "shared"},
		{ClientID: "c1", BeneficiaryKey: "solo"},
	}}
	g := New(source)
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := g.GetSharedBeneficiaryCount("c1"); got != 1 {
		t.Fatalf("GetSharedBeneficiaryCount(c1) = %d, want 1 (only 'shared' is paid by another client)", got)
	}
	if got := g.GetNetworkDensity("c1"); got != 0.5 {
		t.Fatalf("GetNetworkDensity(c1) = %v, want 0.5 (1 shared / 2 total)", got)
	}
}

func TestGraph_NetworkDensity_ZeroBeneficiariesIsZero(t *testing.T) {
	g := New(&fakeSource{})
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.GetNetworkDensity("unknown-client"); got != 0 {
		t.Fatalf("GetNetworkDensity(unknown) = %v, want 0", got)
	}
}

func TestGraph_Refresh_PropagatesSourceError(t *testing.T) {
	source := &fakeSource{err: context.DeadlineExceeded}
	g := New(source)
	if err := g.Refresh(context.Background()); err == nil {
		t.Fatal("expected the transaction source's error to propagate")
	}
	if g.IsReady() {
		t.Fatal("IsReady must stay false after a failed refresh with no prior successful snapshot")
	}
}

// A later Refresh must fully replace the previous snapshot, not merge into it
// — a beneficiary no longer returned by the source must disappear.
func TestGraph_Refresh_ReplacesPreviousSnapshotEntirely(t *testing.T) {
	source := &fakeSource{pairs: []ClientBeneficiaryPair{{ClientID: "c1", BeneficiaryKey: "b1"}}}
	g := New(source)
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.GetTotalBeneficiaryCount("c1"); got != 1 {
		t.Fatalf("GetTotalBeneficiaryCount(c1) = %d, want 1 after first refresh", got)
	}

	source.pairs = []ClientBeneficiaryPair{{ClientID: "c1", BeneficiaryKey: "b2"}}
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.GetFanInCount("b1"); got != 0 {
		t.Fatalf("GetFanInCount(b1) = %d, want 0: b1 is absent from the latest snapshot", got)
	}
	if got := g.GetTotalBeneficiaryCount("c1"); got != 1 {
		t.Fatalf("GetTotalBeneficiaryCount(c1) = %d, want 1 (only b2) after the second refresh", got)
	}
}
