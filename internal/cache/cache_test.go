package cache

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, string, any) (bool, error) {
	return false, errors.New("backend down")
}

func (brokenStore) Set(context.Context, string, string, any) error {
	return errors.New("backend down")
}

func TestFailOpenTurnsReadErrorsIntoMisses(t *testing.T) {
	store := FailOpen(brokenStore{}, zap.NewNop())

	var out string
	hit, err := store.Get(context.Background(), NamespaceGeocode, "key", &out)
	if err != nil {
		t.Fatalf("read error must not propagate, got %v", err)
	}
	if hit {
		t.Fatal("failed read must report a miss")
	}
}

func TestFailOpenDropsFailedWrites(t *testing.T) {
	store := FailOpen(brokenStore{}, zap.NewNop())
	if err := store.Set(context.Background(), NamespaceFind, "key", "value"); err != nil {
		t.Fatalf("write error must not propagate, got %v", err)
	}
}
