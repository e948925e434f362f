package handoff

import (
	"time"

	"orderflow/order"
)

// Stage identifies which custody change a confirmation code gates.
type Stage string

const (
	StageSellerPickup  Stage = "seller_pickup"
	StageBuyerDelivery Stage = "buyer_delivery"
	StageSiteHandoff   Stage = "site_handoff"
)

// CodeStatus is the lifecycle of a confirmation code. A code becomes used
// exactly once; issuing a replacement supersedes the previous active code.
type CodeStatus string

const (
	CodeActive     CodeStatus = "active"
	CodeUsed       CodeStatus = "used"
	CodeExpired    CodeStatus = "expired"
	CodeSuperseded CodeStatus = "superseded"
)

// ConfirmationCode mirrors the confirmation_codes table. The value itself is
// stored only as a bcrypt hash.
type ConfirmationCode struct {
	ID        string
	OrderID   string
	AgentID   *string
	Stage     Stage
	ValueHash string
	ExpiresAt time.Time
	Status    CodeStatus
	UsedBy    *string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IssuedCode is returned to the issuer. The plaintext value exists only in
// this response; it is never persisted.
type IssuedCode struct {
	OrderID   string
	Stage     Stage
	Value     string
	ExpiresAt time.Time
}

// EvidenceMethod classifies a recorded delivery confirmation artifact.
type EvidenceMethod string

const (
	EvidencePhoto     EvidenceMethod = "photo"
	EvidenceSignature EvidenceMethod = "signature"
)

// Evidence is supplementary proof recorded alongside a handoff for dispute
// resolution. It never substitutes for the code check.
type Evidence struct {
	ID         int64
	OrderID    string
	Stage      Stage
	Method     EvidenceMethod
	Data       string
	Notes      string
	RecordedBy string
	CreatedAt  time.Time
}

// EvidenceInput is the optional proof attached to a delivery confirmation.
type EvidenceInput struct {
	Method EvidenceMethod
	Data   string
	Notes  string
}

// Result reports a completed handoff back to the caller.
type Result struct {
	Order  order.Order
	Stage  Stage
	Change order.StatusChange
}
