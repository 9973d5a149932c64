package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAPIKeyLifecycle(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "passage.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	k, err := store.CreateAPIKey(ctx, "ci", "hash-1")
	if err != nil {
		t.Fatal(err)
	}

	id, err := store.ResolveAPIKeyID(ctx, "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if id != k.ID {
		t.Fatalf("expected resolved id %s, got %s", k.ID, id)
	}

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].Name != "ci" {
		t.Fatalf("unexpected key list: %+v", keys)
	}

	if err := store.RevokeAPIKey(ctx, k.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ResolveAPIKeyID(ctx, "hash-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected revoked key to stop resolving, got %v", err)
	}
	if err := store.RevokeAPIKey(ctx, k.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected second revoke to report no rows, got %v", err)
	}
}

func TestResolveSettingPinsFirstValue(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "passage.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	v, err := store.ResolveSetting(ctx, "session_secret", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if v != "abc" {
		t.Fatalf("expected pinned value abc, got %q", v)
	}

	// Empty suggestion returns the pinned value.
	v, err = store.ResolveSetting(ctx, "session_secret", "")
	if err != nil {
		t.Fatal(err)
	}
	if v != "abc" {
		t.Fatalf("expected stored value abc, got %q", v)
	}

	// Conflicting suggestion is rejected.
	if _, err := store.ResolveSetting(ctx, "session_secret", "different"); err == nil {
		t.Fatal("expected mismatched setting to be rejected")
	}

	got, exists, err := store.GetSetting(ctx, "session_secret")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || got != "abc" {
		t.Fatalf("GetSetting: got %q exists=%v", got, exists)
	}
	if _, exists, _ := store.GetSetting(ctx, "missing"); exists {
		t.Fatal("expected missing setting to report not found")
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "path", "passage.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist at %s: %v", dbPath, err)
	}
}
