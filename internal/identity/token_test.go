package identity

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("bidder-42", []string{"Bidder", "bidder", "Host"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "bidder-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated lowercase roles, got %v", claims.Roles)
	}
	if !slices.Contains(claims.Roles, RoleBidder) || !slices.Contains(claims.Roles, RoleHost) {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("bidder-1", []string{RoleBidder}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ParseAndValidate(token + "x"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()

	if Enabled() {
		t.Fatal("expected identity to be disabled without a secret")
	}
	if _, err := GenerateToken("u", []string{RoleBidder}, time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("unexpected principal on empty context")
	}

	ctx = ContextWithPrincipal(ctx, Principal{Subject: "host-7", Roles: []string{RoleHost}})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "host-7" {
		t.Fatalf("unexpected principal: %+v ok=%v", p, ok)
	}
	if !p.HasRole(RoleHost) || p.HasRole(RoleOperator) {
		t.Fatalf("role check failed: %v", p.Roles)
	}
}
