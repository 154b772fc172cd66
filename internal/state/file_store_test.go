package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := NewFileStore(filepath.Join(dir, "nested", "state.json"))
	ctx := context.Background()

	if err := f.Set(ctx, StateKey, []byte(`{"hello":"world"}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := f.Get(ctx, StateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"hello":"world"}` {
		t.Fatalf("Get = %s", got)
	}
}

func TestFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	f := NewFileStore(filepath.Join(dir, "state.json"))
	_, err := f.Get(context.Background(), StateKey)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreGetExpiredReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	f := NewFileStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	if err := f.Set(ctx, StateKey, []byte(`{}`), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, err := f.Get(ctx, StateKey)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for an already-expired entry", err)
	}
}

func TestFileStorePingAlwaysSucceeds(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err := f.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestFileStoreOverwritesExistingDocument(t *testing.T) {
	dir := t.TempDir()
	f := NewFileStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	if err := f.Set(ctx, StateKey, []byte(`{"v":1}`), time.Hour); err != nil {
		t.Fatalf("Set 1: %v", err)
	}
	if err := f.Set(ctx, StateKey, []byte(`{"v":2}`), time.Hour); err != nil {
		t.Fatalf("Set 2: %v", err)
	}
	got, err := f.Get(ctx, StateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("Get = %s, want the second write to have won", got)
	}
}
