package allowlist

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestMutualExclusivity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "allowlist_test.db"))

	if err := store.AddToWhitelist(ctx, "did:plc:a", "alice.example", ReasonManual); err != nil {
		t.Fatalf("add to whitelist: %v", err)
	}
	if err := store.AddToGreylist(ctx, "did:plc:a", "alice.example", ReasonManual); err != nil {
		t.Fatalf("add to greylist: %v", err)
	}

	whitelisted, err := store.IsWhitelisted(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("is whitelisted: %v", err)
	}
	if whitelisted {
		t.Fatalf("account should have left the whitelist after greylisting")
	}
	greylisted, err := store.IsGreylisted(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("is greylisted: %v", err)
	}
	if !greylisted {
		t.Fatalf("account should be greylisted")
	}

	whitelist, err := store.Whitelist(ctx)
	if err != nil {
		t.Fatalf("whitelist dump: %v", err)
	}
	if len(whitelist) != 0 {
		t.Fatalf("whitelist length = %d, want 0", len(whitelist))
	}
	greylist, err := store.Greylist(ctx)
	if err != nil {
		t.Fatalf("greylist dump: %v", err)
	}
	if len(greylist) != 1 || greylist[0].DID != "did:plc:a" {
		t.Fatalf("unexpected greylist contents: %+v", greylist)
	}
}

func TestIdempotentAdds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "allowlist_test.db"))

	for i := 0; i < 3; i++ {
		if err := store.AddToWhitelist(ctx, "did:plc:a", "alice.example", ReasonMutual); err != nil {
			t.Fatalf("add to whitelist attempt %d: %v", i, err)
		}
	}
	whitelist, err := store.Whitelist(ctx)
	if err != nil {
		t.Fatalf("whitelist dump: %v", err)
	}
	if len(whitelist) != 1 {
		t.Fatalf("whitelist length = %d, want 1", len(whitelist))
	}
	if whitelist[0].Reason != ReasonMutual {
		t.Fatalf("reason = %q, want %q", whitelist[0].Reason, ReasonMutual)
	}
	if _, parseErr := time.Parse(time.RFC3339, whitelist[0].AddedAt); parseErr != nil {
		t.Fatalf("addedAt %q is not RFC3339: %v", whitelist[0].AddedAt, parseErr)
	}
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "allowlist_test.db"))

	if err := store.AddToWhitelist(ctx, "did:plc:a", "alice.example", ReasonManual); err != nil {
		t.Fatalf("add to whitelist: %v", err)
	}
	if err := store.AddToGreylist(ctx, "did:plc:b", "bob.example", ReasonManual); err != nil {
		t.Fatalf("add to greylist: %v", err)
	}

	if err := store.Remove(ctx, "did:plc:a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	whitelisted, _ := store.IsWhitelisted(ctx, "did:plc:a")
	if whitelisted {
		t.Fatalf("removed account still whitelisted")
	}
	// Removing an absent account is a no-op.
	if err := store.Remove(ctx, "did:plc:a"); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	greylist, _ := store.Greylist(ctx)
	if len(greylist) != 0 {
		t.Fatalf("greylist not emptied by clear: %+v", greylist)
	}
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "allowlist_test.db")

	store := newTestStore(t, dbPath)
	if err := store.AddToWhitelist(ctx, "did:plc:a", "alice.example", ReasonMutual); err != nil {
		t.Fatalf("add to whitelist: %v", err)
	}

	reopened := newTestStore(t, dbPath)
	whitelisted, err := reopened.IsWhitelisted(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("is whitelisted after reopen: %v", err)
	}
	if !whitelisted {
		t.Fatalf("entry did not survive reopen")
	}
}

func TestEmptyDIDRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "allowlist_test.db"))

	if err := store.AddToWhitelist(ctx, "", "alice.example", ReasonManual); err == nil {
		t.Fatalf("expected error for empty did")
	}
	if _, err := store.IsWhitelisted(ctx, " "); err == nil {
		t.Fatalf("expected error for blank did lookup")
	}
}
