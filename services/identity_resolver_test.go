package services

import (
	"context"
	"testing"

	"league-sync-service/database"
)

type fakeFinder struct {
	byExternal map[string]*database.Match
	byNatural  *database.Match
	err        error

	externalCalls int
	naturalCalls  int
}

func (f *fakeFinder) FindByExternalID(ctx context.Context, externalID string) (*database.Match, error) {
	f.externalCalls++
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.byExternal[externalID]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

func (f *fakeFinder) FindByNaturalKey(ctx context.Context, msg *MatchMessage) (*database.Match, error) {
	f.naturalCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.byNatural != nil {
		return f.byNatural, nil
	}
	return nil, ErrNotFound
}

func TestResolveByExternalID(t *testing.T) {
	existing := storedMatch(nil)
	finder := &fakeFinder{byExternal: map[string]*database.Match{"42": existing}}
	r := NewIdentityResolver(finder)

	match, err := r.Resolve(context.Background(), automatedMessage(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != existing {
		t.Error("expected the stored match to be resolved")
	}
	if finder.naturalCalls != 0 {
		t.Error("external-id messages must not fall back to the natural key")
	}
}

func TestResolveExternalIDMissIsCreateCandidate(t *testing.T) {
	finder := &fakeFinder{byExternal: map[string]*database.Match{}}
	r := NewIdentityResolver(finder)

	match, err := r.Resolve(context.Background(), automatedMessage(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Error("expected create candidate (nil match)")
	}
}

func TestResolveByNaturalKey(t *testing.T) {
	// 人工消息没有外部 ID，必须能按自然键匹配到自动创建的行
	existing := storedMatch(nil)
	finder := &fakeFinder{byNatural: existing}
	r := NewIdentityResolver(finder)

	msg := automatedMessage(func(m *MatchMessage) {
		m.Source = SourceManual
		m.ExternalID = nil
	})

	match, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != existing {
		t.Error("expected the stored match to be resolved by natural key")
	}
	if finder.externalCalls != 0 {
		t.Error("messages without external id must skip the external lookup")
	}
}

func TestResolvePropagatesStorageErrors(t *testing.T) {
	finder := &fakeFinder{err: Transient(context.DeadlineExceeded)}
	r := NewIdentityResolver(finder)

	_, err := r.Resolve(context.Background(), automatedMessage(nil))
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
