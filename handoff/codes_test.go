package handoff

import (
	"testing"

	"orderflow/auth"
	"orderflow/order"
)

func TestGenerateCodeFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		value, err := generateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(value) != 6 {
			t.Fatalf("code %q has length %d, want 6", value, len(value))
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", value, r)
			}
		}
		seen[value] = struct{}{}
	}
	// 200 draws from a million values collide rarely; a handful of repeats
	// is fine, a constant generator is not.
	if len(seen) < 150 {
		t.Fatalf("only %d distinct codes out of 200 draws", len(seen))
	}
}

func TestStageTablesCoverAllStages(t *testing.T) {
	stages := []Stage{StageSellerPickup, StageBuyerDelivery, StageSiteHandoff}
	for _, stage := range stages {
		if _, ok := issueGates[stage]; !ok {
			t.Errorf("issueGates missing %s", stage)
		}
		if _, ok := stageTriggers[stage]; !ok {
			t.Errorf("stageTriggers missing %s", stage)
		}
		if _, ok := issueActions[stage]; !ok {
			t.Errorf("issueActions missing %s", stage)
		}
		if _, ok := verifyActions[stage]; !ok {
			t.Errorf("verifyActions missing %s", stage)
		}
	}
}

func TestCheckIssuer(t *testing.T) {
	agentID := "agent-1"
	ord := order.Order{
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		AssignedAgentID: &agentID,
	}
	svc := &Service{}

	cases := []struct {
		name    string
		stage   Stage
		actor   auth.Identity
		wantErr bool
	}{
		{"seller issues pickup code", StageSellerPickup, auth.Identity{UserID: "seller-1", Role: auth.RoleSeller}, false},
		{"other seller refused", StageSellerPickup, auth.Identity{UserID: "seller-2", Role: auth.RoleSeller}, true},
		{"buyer issues delivery code", StageBuyerDelivery, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer}, false},
		{"other buyer refused", StageBuyerDelivery, auth.Identity{UserID: "buyer-2", Role: auth.RoleBuyer}, true},
		{"assigned agent issues site code", StageSiteHandoff, auth.Identity{UserID: "agent-1", Role: auth.RolePickupDelivery}, false},
		{"unassigned agent refused", StageSiteHandoff, auth.Identity{UserID: "agent-2", Role: auth.RolePickupDelivery}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.checkIssuer(ord, tc.stage, tc.actor)
			if tc.wantErr && err == nil {
				t.Fatal("expected authorization error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBoundAgent(t *testing.T) {
	agentID := "agent-1"
	ord := order.Order{AssignedAgentID: &agentID}

	if got := boundAgent(ord, StageSellerPickup); got == nil || *got != agentID {
		t.Fatalf("pickup code should bind to assigned agent, got %v", got)
	}
	if got := boundAgent(ord, StageBuyerDelivery); got == nil || *got != agentID {
		t.Fatalf("delivery code should bind to assigned agent, got %v", got)
	}
	// Any site manager may receive the parcel, so site codes stay open.
	if got := boundAgent(ord, StageSiteHandoff); got != nil {
		t.Fatalf("site handoff code must not bind to an agent, got %q", *got)
	}
}
