package settlement

import (
	"errors"
	"testing"

	"orderflow/auth"
	"orderflow/config"
)

func testRates() config.Rates {
	return config.Rates{
		SellerShare:           0.85,
		FastDeliveryRate:      0.15,
		PickupDeliveryRate:    0.10,
		PickupSiteRate:        0.05,
		PlatformMarginRate:    0.21,
		ReferralShareOfMargin: 0.15,
	}
}

func TestSplit_ObservedDefaults(t *testing.T) {
	e := NewEngine(testRates(), nil, nil)

	s, err := e.Split(10_000, auth.RoleFastDeliveryAgent, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if s.SellerAmount != 8_500 {
		t.Errorf("seller amount = %d, want 8500", s.SellerAmount)
	}
	if s.AgentCommission != 1_500 {
		t.Errorf("agent commission = %d, want 1500", s.AgentCommission)
	}
	if s.PlatformMargin != 2_100 {
		t.Errorf("platform margin = %d, want 2100", s.PlatformMargin)
	}
	if s.ReferralCut != 0 {
		t.Errorf("referral cut = %d, want 0 without referral", s.ReferralCut)
	}
}

func TestSplit_ReferralFundedFromMargin(t *testing.T) {
	e := NewEngine(testRates(), nil, nil)

	s, err := e.Split(10_000, auth.RolePickupDelivery, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if s.AgentCommission != 1_000 {
		t.Errorf("pickup-delivery commission = %d, want 1000", s.AgentCommission)
	}
	// 21% margin = 2100; 15% of that = 315.
	if s.ReferralCut != 315 {
		t.Errorf("referral cut = %d, want 315", s.ReferralCut)
	}
	// Referral is carved out of the margin, so seller proceeds are unchanged.
	if s.SellerAmount != 8_500 {
		t.Errorf("seller amount = %d, want 8500", s.SellerAmount)
	}
}

func TestSplit_RoleRates(t *testing.T) {
	e := NewEngine(testRates(), nil, nil)

	cases := []struct {
		role auth.Role
		want int64
	}{
		{auth.RoleFastDeliveryAgent, 1_500},
		{auth.RolePickupDelivery, 1_000},
		{auth.RolePickupSiteManager, 500},
	}
	for _, tc := range cases {
		s, err := e.Split(10_000, tc.role, false)
		if err != nil {
			t.Fatalf("split(%s): %v", tc.role, err)
		}
		if s.AgentCommission != tc.want {
			t.Errorf("commission for %s = %d, want %d", tc.role, s.AgentCommission, tc.want)
		}
	}
}

func TestSplit_NonAgentRole(t *testing.T) {
	e := NewEngine(testRates(), nil, nil)

	if _, err := e.Split(10_000, auth.RoleBuyer, false); !errors.Is(err, ErrNoAgentRate) {
		t.Fatalf("expected ErrNoAgentRate, got %v", err)
	}
}

func TestSplit_Rounding(t *testing.T) {
	e := NewEngine(testRates(), nil, nil)

	// 999 * 0.85 = 849.15 -> 849; 999 * 0.15 = 149.85 -> 150.
	s, err := e.Split(999, auth.RoleFastDeliveryAgent, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if s.SellerAmount != 849 {
		t.Errorf("seller amount = %d, want 849", s.SellerAmount)
	}
	if s.AgentCommission != 150 {
		t.Errorf("agent commission = %d, want 150", s.AgentCommission)
	}
}
