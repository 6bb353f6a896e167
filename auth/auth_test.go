package auth

import (
	"testing"
	"time"
)

func TestIssueAndIdentify(t *testing.T) {
	s := NewMemStore()
	tok, err := s.Issue("demo-user", "cli", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if tok.AccountID != "demo-user" {
		t.Errorf("AccountID = %q, want demo-user", tok.AccountID)
	}

	got, ok := s.Identify(tok.Secret)
	if !ok {
		t.Fatal("Identify() did not find freshly issued token")
	}
	if got.AccountID != "demo-user" {
		t.Errorf("Identify() AccountID = %q, want demo-user", got.AccountID)
	}
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt not set after Identify()")
	}
}

func TestIdentify_UnknownSecret(t *testing.T) {
	s := NewMemStore()
	if _, ok := s.Identify("nope"); ok {
		t.Error("Identify() found a token for an unknown secret")
	}
}

func TestRevoke_BlocksFutureIdentify(t *testing.T) {
	s := NewMemStore()
	tok, _ := s.Issue("demo-user", "cli", nil)
	if err := s.Revoke(tok.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if _, ok := s.Identify(tok.Secret); ok {
		t.Error("Identify() succeeded for a revoked token")
	}
}

func TestRevoke_UnknownID(t *testing.T) {
	s := NewMemStore()
	if err := s.Revoke("missing"); err == nil {
		t.Error("Revoke() on an unknown id should return an error")
	}
}

func TestIdentify_ExpiredToken(t *testing.T) {
	s := NewMemStore()
	past := time.Now().Add(-time.Minute)
	tok, _ := s.Issue("demo-user", "cli", &past)
	if _, ok := s.Identify(tok.Secret); ok {
		t.Error("Identify() succeeded for an expired token")
	}
}

func TestList_MasksSecret(t *testing.T) {
	s := NewMemStore()
	tok, _ := s.Issue("demo-user", "cli", nil)
	list := s.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d tokens, want 1", len(list))
	}
	if list[0].Secret == tok.Secret {
		t.Error("List() returned the unmasked secret")
	}
}

func TestSeed_TokensResolveToAccounts(t *testing.T) {
	s := Seed()
	for _, accountID := range []string{"demo-user", "ops-team", "guest"} {
		tok, ok := s.Identify("demo-" + accountID)
		if !ok {
			t.Fatalf("Identify(demo-%s) failed", accountID)
		}
		if tok.AccountID != accountID {
			t.Errorf("Identify(demo-%s) AccountID = %q, want %q", accountID, tok.AccountID, accountID)
		}
	}
}
