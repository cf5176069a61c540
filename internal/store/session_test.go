package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("resolved (%q, %v), want (user-1, true)", userID, ok)
	}

	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("deleted session should not resolve")
	}
}

func TestRedisSessionStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	token, err := s.NewSession("user-2")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expired session should not resolve")
	}
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Minute)

	token, err := s.NewSession("user-3")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !ok || userID != "user-3" {
		t.Fatalf("resolved (%q, %v), want (user-3, true)", userID, ok)
	}
}

func TestJWTSessionStoreRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-a", time.Minute)
	verifier := NewJWTSessionStore("secret-b", time.Minute)

	token, err := issuer.NewSession("user-4")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := verifier.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
}

func TestJWTSessionStoreRejectsExpired(t *testing.T) {
	s := NewJWTSessionStore("test-secret", -time.Minute)
	token, err := s.NewSession("user-5")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expired token must not verify")
	}
}
