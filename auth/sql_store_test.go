package auth

import (
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "tokens.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	return s
}

func TestSQLStore_IssueAndIdentify(t *testing.T) {
	s := newTestSQLiteStore(t)
	tok, err := s.Issue("demo-user", "cli", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	got, ok := s.Identify(tok.Secret)
	if !ok {
		t.Fatal("Identify() did not find freshly issued token")
	}
	if got.AccountID != "demo-user" {
		t.Errorf("AccountID = %q, want demo-user", got.AccountID)
	}
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}
}

func TestSQLStore_RevokeBlocksIdentify(t *testing.T) {
	s := newTestSQLiteStore(t)
	tok, _ := s.Issue("demo-user", "cli", nil)
	if err := s.Revoke(tok.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if _, ok := s.Identify(tok.Secret); ok {
		t.Error("Identify() succeeded for a revoked token")
	}
}

func TestSQLStore_RevokeUnknownID(t *testing.T) {
	s := newTestSQLiteStore(t)
	if err := s.Revoke("missing"); err == nil {
		t.Error("Revoke() on an unknown id should return an error")
	}
}

func TestSQLStore_ListMasksSecret(t *testing.T) {
	s := newTestSQLiteStore(t)
	tok, _ := s.Issue("demo-user", "cli", nil)
	list := s.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d tokens, want 1", len(list))
	}
	if list[0].Secret == tok.Secret {
		t.Error("List() returned the unmasked secret")
	}
}

func TestSQLStore_IdentifyUnknownSecret(t *testing.T) {
	s := newTestSQLiteStore(t)
	if _, ok := s.Identify("nope"); ok {
		t.Error("Identify() found a token for an unknown secret")
	}
}
