package security

import (
	"testing"
	"time"
)

func TestAuthContextScopes(t *testing.T) {
	authCtx := NewAuthContext("alice", "sess-1", []string{"write", "read"})

	t.Run("HasScope matches granted scopes", func(t *testing.T) {
		if !authCtx.HasScope("read") || !authCtx.HasScope("write") {
			t.Errorf("expected read and write to be granted")
		}
		if authCtx.HasScope("admin") {
			t.Errorf("admin should not be granted")
		}
	})

	t.Run("ScopeList is sorted", func(t *testing.T) {
		scopes := authCtx.ScopeList()
		if len(scopes) != 2 || scopes[0] != "read" || scopes[1] != "write" {
			t.Errorf("expected sorted [read write], got %v", scopes)
		}
	})

	t.Run("duplicate scopes collapse", func(t *testing.T) {
		dup := NewAuthContext("bob", "sess-2", []string{"read", "read"})
		if dup.Scope.Len() != 1 {
			t.Errorf("expected 1 distinct scope, got %d", dup.Scope.Len())
		}
	})
}

func TestSessionExpiry(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := Session{
		ID:        "s1",
		UserID:    "alice",
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}

	if sess.Expired(created.Add(30 * time.Minute)) {
		t.Errorf("session should still be live at half lifetime")
	}
	if sess.Expired(sess.ExpiresAt) {
		t.Errorf("session expires strictly after the deadline")
	}
	if !sess.Expired(sess.ExpiresAt.Add(time.Nanosecond)) {
		t.Errorf("session should be expired past the deadline")
	}

	if got := sess.RemainingLifetime(created); got != time.Hour {
		t.Errorf("expected 1h remaining, got %v", got)
	}
	if got := sess.RemainingLifetime(sess.ExpiresAt.Add(time.Minute)); got != 0 {
		t.Errorf("expected 0 remaining after expiry, got %v", got)
	}
}

func TestMiddlewareResult(t *testing.T) {
	req := &Request{Method: "demo", Params: map[string]interface{}{"a": 1}}

	cont := Continue(req)
	if cont.Blocked() {
		t.Errorf("Continue must not report blocked")
	}
	if cont.Request() != req {
		t.Errorf("Continue must carry the request through")
	}

	blocked := Block("policy says no")
	if !blocked.Blocked() {
		t.Errorf("Block must report blocked")
	}
	if blocked.Request() != nil {
		t.Errorf("blocked result must not carry a request")
	}
	if blocked.Reason() != "policy says no" {
		t.Errorf("unexpected block reason %q", blocked.Reason())
	}
}
