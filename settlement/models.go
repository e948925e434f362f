package settlement

import "time"

// Category classifies a payout request for the admin gate.
type Category string

const (
	CategorySellerPayout       Category = "SELLER_PAYOUT"
	CategoryAgentCommission    Category = "AGENT_COMMISSION"
	CategoryReferralCommission Category = "REFERRAL_COMMISSION"
	CategoryRefund             Category = "REFUND"
	CategoryCancellation       Category = "CANCELLATION"
)

// RequestStatus is the admin-gate lifecycle of a payout request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PayoutRequest is a proposed, not-yet-released payment. The engine only
// ever creates these in pending status; release happens in the approval gate.
type PayoutRequest struct {
	ID            string
	OrderID       string
	ApprovalType  Category
	BeneficiaryID string
	RequestedBy   string
	Amount        int64
	Status        RequestStatus
	ReviewNotes   *string
	DecidedBy     *string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Split is the deterministic division of an order total.
type Split struct {
	SellerAmount    int64
	AgentCommission int64
	PlatformMargin  int64
	ReferralCut     int64
}
