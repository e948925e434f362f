package order

import (
	"errors"
	"testing"

	"orderflow/auth"
)

func baseOrder() Order {
	agentID := "agent-1"
	role := auth.RoleFastDeliveryAgent
	return Order{
		ID:              "order-1",
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		AssignedAgentID: &agentID,
		AgentRole:       &role,
		DeliveryMethod:  DeliveryHome,
		TotalAmount:     10_000,
		Status:          StatusAssigned,
		Version:         3,
	}
}

func TestPeek_LegalEdge(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusAgentEnRouteSeller

	next, boundary, err := Peek(ord, TriggerPickupVerified, auth.Identity{UserID: "agent-1", Role: auth.RoleFastDeliveryAgent})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if next != StatusPickedFromSeller {
		t.Errorf("next = %s", next)
	}
	if boundary != BoundarySellerPickup {
		t.Errorf("boundary = %s", boundary)
	}
}

func TestPeek_NoEdge(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusPendingConfirmation

	_, _, err := Peek(ord, TriggerDeliveryVerified, auth.Identity{UserID: "agent-1", Role: auth.RoleFastDeliveryAgent})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPeek_Terminal(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusDelivered

	_, _, err := Peek(ord, TriggerCancel, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer})
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestPeek_WrongBuyer(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusPendingConfirmation

	_, _, err := Peek(ord, TriggerConfirm, auth.Identity{UserID: "someone-else", Role: auth.RoleBuyer})
	if !errors.Is(err, ErrActorNotAuthorized) {
		t.Fatalf("expected ErrActorNotAuthorized, got %v", err)
	}
}

func TestPeek_WrongAgent(t *testing.T) {
	ord := baseOrder()

	_, _, err := Peek(ord, TriggerStartPickup, auth.Identity{UserID: "agent-2", Role: auth.RoleFastDeliveryAgent})
	if !errors.Is(err, ErrActorNotAuthorized) {
		t.Fatalf("expected ErrActorNotAuthorized, got %v", err)
	}
}

func TestPeek_RoleNotAllowed(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusEnRouteToBuyer

	_, _, err := Peek(ord, TriggerDeliveryVerified, auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer})
	if !errors.Is(err, ErrActorNotAuthorized) {
		t.Fatalf("expected ErrActorNotAuthorized, got %v", err)
	}
}

func TestPeek_MethodConstraint(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusPickedFromSeller
	role := auth.RolePickupDelivery
	ord.AgentRole = &role

	// Home-delivery orders never visit a pickup site.
	_, _, err := Peek(ord, TriggerArriveSite, auth.Identity{UserID: "agent-1", Role: auth.RolePickupDelivery})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	ord.DeliveryMethod = DeliveryPickupSite
	next, _, err := Peek(ord, TriggerArriveSite, auth.Identity{UserID: "agent-1", Role: auth.RolePickupDelivery})
	if err != nil {
		t.Fatalf("peek pickup-site: %v", err)
	}
	if next != StatusAtPickupSite {
		t.Errorf("next = %s", next)
	}
}

func TestPeek_ClaimMatchesDeliveryMethod(t *testing.T) {
	fda := auth.Identity{UserID: "agent-1", Role: auth.RoleFastDeliveryAgent}
	pda := auth.Identity{UserID: "agent-2", Role: auth.RolePickupDelivery}

	home := baseOrder()
	home.Status = StatusConfirmed
	home.AssignedAgentID = nil
	home.AgentRole = nil

	site := home
	site.DeliveryMethod = DeliveryPickupSite

	if _, _, err := Peek(home, TriggerClaim, fda); err != nil {
		t.Fatalf("fast-delivery agent claiming home order: %v", err)
	}
	if _, _, err := Peek(site, TriggerClaim, pda); err != nil {
		t.Fatalf("pickup-delivery agent claiming site order: %v", err)
	}

	// A mismatched claim would leave the order with no legal continuation
	// after seller pickup, so it must be refused up front.
	if _, _, err := Peek(site, TriggerClaim, fda); !errors.Is(err, ErrActorNotAuthorized) {
		t.Fatalf("fast-delivery agent on site order: expected ErrActorNotAuthorized, got %v", err)
	}
	if _, _, err := Peek(home, TriggerClaim, pda); !errors.Is(err, ErrActorNotAuthorized) {
		t.Fatalf("pickup-delivery agent on home order: expected ErrActorNotAuthorized, got %v", err)
	}
}

func TestMethodForAgent(t *testing.T) {
	if m, ok := MethodForAgent(auth.RoleFastDeliveryAgent); !ok || m != DeliveryHome {
		t.Errorf("fast delivery agent serves %s, %v", m, ok)
	}
	if m, ok := MethodForAgent(auth.RolePickupDelivery); !ok || m != DeliveryPickupSite {
		t.Errorf("pickup delivery agent serves %s, %v", m, ok)
	}
	if _, ok := MethodForAgent(auth.RoleBuyer); ok {
		t.Error("buyer must not map to a delivery method")
	}
}

func TestPeek_CancelOnlyPrePickup(t *testing.T) {
	buyer := auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer}

	for _, status := range []Status{StatusPendingConfirmation, StatusConfirmed, StatusAssigned, StatusAgentEnRouteSeller} {
		ord := baseOrder()
		ord.Status = status
		if _, _, err := Peek(ord, TriggerCancel, buyer); err != nil {
			t.Errorf("cancel from %s: %v", status, err)
		}
	}

	ord := baseOrder()
	ord.Status = StatusPickedFromSeller
	if _, _, err := Peek(ord, TriggerCancel, buyer); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel after pickup should be invalid, got %v", err)
	}
}

func TestPeek_AdminCancel(t *testing.T) {
	ord := baseOrder()
	ord.Status = StatusConfirmed

	if _, _, err := Peek(ord, TriggerCancel, auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestPeek_SiteHandoffByAnyManager(t *testing.T) {
	ord := baseOrder()
	ord.DeliveryMethod = DeliveryPickupSite
	ord.Status = StatusAtPickupSite
	role := auth.RolePickupDelivery
	ord.AgentRole = &role

	// The receiving manager is not the agent of record yet.
	next, _, err := Peek(ord, TriggerSiteVerified, auth.Identity{UserID: "psm-1", Role: auth.RolePickupSiteManager})
	if err != nil {
		t.Fatalf("site handoff: %v", err)
	}
	if next != StatusSiteReceived {
		t.Errorf("next = %s", next)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusRefunded} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPendingConfirmation, StatusRejected, StatusReturned, StatusEnRouteToBuyer} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
