package order

import (
	"time"

	"orderflow/auth"
)

// Status is the canonical order state. Mutated only through Service.Transition.
type Status string

const (
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusConfirmed           Status = "CONFIRMED"
	StatusAssigned            Status = "ASSIGNED"
	StatusAgentEnRouteSeller  Status = "AGENT_EN_ROUTE_TO_SELLER"
	StatusPickedFromSeller    Status = "PICKED_FROM_SELLER"
	StatusAtPickupSite        Status = "AT_PICKUP_SITE"
	StatusSiteReceived        Status = "PSM_RECEIVED"
	StatusEnRouteToBuyer      Status = "EN_ROUTE_TO_BUYER"
	StatusDelivered           Status = "DELIVERED"
	StatusCancelled           Status = "CANCELLED"
	StatusRejected            Status = "REJECTED"
	StatusReturned            Status = "RETURNED"
	StatusRefunded            Status = "REFUNDED"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// DeliveryMethod selects the custody chain an order travels.
type DeliveryMethod string

const (
	DeliveryHome       DeliveryMethod = "home"
	DeliveryPickupSite DeliveryMethod = "pickup_site"
)

// PayoutStatus tracks the admin-gated release of a payout category.
type PayoutStatus string

const (
	PayoutNone     PayoutStatus = "none"
	PayoutAwaiting PayoutStatus = "awaiting_admin_approval"
	PayoutPaid     PayoutStatus = "paid"
)

// Order mirrors the orders table. Amounts are integer minor units.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	AssignedAgentID *string
	AgentRole       *auth.Role
	DeliveryMethod  DeliveryMethod
	TotalAmount     int64
	ReferralUserID  *string
	Status          Status
	Version         int64

	SellerPayoutStatus    PayoutStatus
	AgentCommissionStatus PayoutStatus

	// Split amounts frozen by the settlement engine when custody leaves the
	// seller; nil until then.
	SellerPayoutAmount    *int64
	AgentCommissionAmount *int64
	ReferralAmount        *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one append-only audit row. Never updated, never deleted.
type HistoryEntry struct {
	ID        int64
	OrderID   string
	OldStatus Status
	NewStatus Status
	ChangedBy string
	Reason    string
	CreatedAt time.Time
}

// StatusChange is handed to the notifier after the transaction commits.
type StatusChange struct {
	Order     Order
	Old       Status
	New       Status
	Trigger   Trigger
	Actor     auth.Identity
	Timestamp time.Time
}
