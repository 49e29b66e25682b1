package isolationforest

import (
	"context"
	"errors"
	"testing"
)

type fakeLoader struct {
	blobs map[string][]byte
	err   error
}

func (f *fakeLoader) LoadModel(ctx context.Context, clientID string) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	data, ok := f.blobs[clientID]
	return data, ok, nil
}

func TestStore_Load_NilLoaderServesOnlyPutModels(t *testing.T) {
	s := NewStore(nil)
	if _, ok, err := s.Load(context.Background(), "client-1"); err != nil || ok {
		t.Fatalf("Load with nil loader and no Put = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	forest := &Forest{SampleSize: 16}
	s.Put("client-1", forest)

	got, ok, err := s.Load(context.Background(), "client-1")
	if err != nil || !ok || got != forest {
		t.Fatalf("Load after Put = (%v, %v, %v), want the same forest pointer", got, ok, err)
	}
}

func TestStore_Load_FetchesAndCachesFromLoader(t *testing.T) {
	forest := &Forest{SampleSize: 32}
	data, err := forest.Serialize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loader := &fakeLoader{blobs: map[string][]byte{"client-1": data}}
	s := NewStore(loader)

	got, ok, err := s.Load(context.Background(), "client-1")
	if err != nil || !ok {
		t.Fatalf("Load = (ok=%v, err=%v), want (true, nil)", ok, err)
	}
	if got.SampleSize != 32 {
		t.Fatalf("SampleSize = %d, want 32", got.SampleSize)
	}

	loader.blobs = nil // force cache hit on second call
	again, ok, err := s.Load(context.Background(), "client-1")
	if err != nil || !ok || again.SampleSize != 32 {
		t.Fatalf("second Load did not hit the cache: (%v, %v, %v)", again, ok, err)
	}
}

func TestStore_Load_AbsentModelIsNotAnError(t *testing.T) {
	loader := &fakeLoader{blobs: map[string][]byte{}}
	s := NewStore(loader)
	_, ok, err := s.Load(context.Background(), "unknown-client")
	if err != nil {
		t.Fatalf("unexpected error for an absent model: %v", err)
	}
	if ok {
		t.Fatal("ok = true, want false when no model exists for this client")
	}
}

func TestStore_Load_PropagatesLoaderError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("boom")}
	s := NewStore(loader)
	if _, _, err := s.Load(context.Background(), "client-1"); err == nil {
		t.Fatal("expected the loader's error to propagate")
	}
}

func TestStore_Invalidate_ForcesRefetch(t *testing.T) {
	forest := &Forest{SampleSize: 8}
	s := NewStore(nil)
	s.Put("client-1", forest)
	s.Invalidate("client-1")

	if _, ok, _ := s.Load(context.Background(), "client-1"); ok {
		t.Fatal("Load found a model after Invalidate with no loader configured")
	}
}
