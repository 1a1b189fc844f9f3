package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
)

func TestIdentityFromContext_Missing(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("IdentityFromContext(empty ctx) ok = true, want false")
	}
	ctx := WithIdentity(context.Background(), Identity{})
	if _, ok := IdentityFromContext(ctx); ok {
		t.Error("IdentityFromContext(blank identity) ok = true, want false")
	}
}

func TestIdentityFromContext_RoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Email: "a@b.c"})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != "u1" || id.Email != "a@b.c" {
		t.Errorf("IdentityFromContext = %+v, %v", id, ok)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  xyz ", "xyz", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := BearerToken(c.header)
		if got != c.want || ok != c.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", c.header, got, ok, c.want, c.ok)
		}
	}
}

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v := NewJWTVerifier("secret", "gaadisathi", time.Hour)
	token, err := v.IssueToken(Identity{UserID: "rider-1", Email: "r@x.in"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "rider-1" || id.Email != "r@x.in" {
		t.Errorf("Verify = %+v", id)
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	issuer := NewJWTVerifier("secret-a", "gaadisathi", time.Hour)
	token, _ := issuer.IssueToken(Identity{UserID: "u"})

	other := NewJWTVerifier("secret-b", "gaadisathi", time.Hour)
	if _, err := other.Verify(context.Background(), token); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("Verify(wrong secret) err = %v, want ErrNotAuthenticated", err)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier("secret", "gaadisathi", time.Minute)
	v.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _ := v.IssueToken(Identity{UserID: "u"})

	v.now = time.Now
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("Verify(expired) err = %v, want ErrNotAuthenticated", err)
	}
}

func TestJWTVerifier_Garbage(t *testing.T) {
	v := NewJWTVerifier("secret", "gaadisathi", time.Hour)
	if _, err := v.Verify(context.Background(), "not-a-token"); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("Verify(garbage) err = %v, want ErrNotAuthenticated", err)
	}
}
