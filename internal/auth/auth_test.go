package auth

import (
	"context"
	"testing"
	"time"

	"crewarchive.org/internal/policy"
)

func withSecret(t *testing.T) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv("CREWARCHIVE_AUTH_SECRET", "unit-test-secret")
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("user-42", policy.LevelModerator, true, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	sess, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if sess.UserID != "user-42" {
		t.Fatalf("unexpected subject: %s", sess.UserID)
	}
	if sess.Level != policy.LevelModerator {
		t.Fatalf("unexpected level: %v", sess.Level)
	}
	if !sess.Verified {
		t.Fatal("verified flag lost")
	}
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	withSecret(t)

	if _, err := GenerateToken("", policy.LevelBaseUser, false, time.Minute); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := GenerateToken("u", policy.Level(99), false, time.Minute); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := GenerateToken("u", policy.LevelBaseUser, false, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	withSecret(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); err == nil {
			t.Fatalf("expected validation failure for %q", token)
		}
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("user-1", policy.LevelBaseUser, false, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := SessionFromContext(ctx); ok {
		t.Fatal("empty context must not yield a session")
	}

	ctx = ContextWithSession(ctx, Session{UserID: " user-7 ", Level: policy.LevelAdmin, Verified: true})
	sess, ok := SessionFromContext(ctx)
	if !ok || sess.UserID != "user-7" {
		t.Fatalf("unexpected session: %+v ok=%v", sess, ok)
	}
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s ok=%v", id, ok)
	}
}
