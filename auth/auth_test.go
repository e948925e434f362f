package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "secret", jwt.MapClaims{
		"user_id": "user-1",
		"role":    "buyer",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if id.UserID != "user-1" || id.Role != RoleBuyer {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "other", jwt.MapClaims{
		"user_id": "user-1",
		"role":    "buyer",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_UnknownRole(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "secret", jwt.MapClaims{
		"user_id": "user-1",
		"role":    "superuser",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "secret", jwt.MapClaims{
		"user_id": "user-1",
		"role":    "buyer",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCanPerform(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleBuyer, ActionConfirmOrder, true},
		{RoleSeller, ActionConfirmOrder, false},
		{RoleAdmin, ActionDecideApproval, true},
		{RoleFastDeliveryAgent, ActionDecideApproval, false},
		{RoleFastDeliveryAgent, ActionClaimOrder, true},
		{RolePickupSiteManager, ActionClaimOrder, false},
		{RolePickupSiteManager, ActionVerifySiteHandoff, true},
		{RoleSeller, ActionIssuePickupCode, true},
		{RoleBuyer, Action("unknown"), false},
	}
	for _, tc := range cases {
		if got := CanPerform(tc.role, tc.action); got != tc.want {
			t.Errorf("CanPerform(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestRoleIsAgent(t *testing.T) {
	if !RoleFastDeliveryAgent.IsAgent() || !RolePickupDelivery.IsAgent() || !RolePickupSiteManager.IsAgent() {
		t.Error("agent roles should report IsAgent")
	}
	if RoleBuyer.IsAgent() || RoleAdmin.IsAgent() {
		t.Error("non-agent roles should not report IsAgent")
	}
}
