package order

import (
	"errors"
	"fmt"

	"orderflow/auth"
)

// Trigger names the cause of a transition attempt.
type Trigger string

const (
	TriggerConfirm          Trigger = "confirm"
	TriggerCancel           Trigger = "cancel"
	TriggerClaim            Trigger = "claim"
	TriggerStartPickup      Trigger = "start_pickup"
	TriggerPickupVerified   Trigger = "seller_pickup_verified"
	TriggerArriveSite       Trigger = "arrive_at_site"
	TriggerSiteVerified     Trigger = "site_handoff_verified"
	TriggerStartDelivery    Trigger = "start_delivery"
	TriggerDeliveryVerified Trigger = "buyer_delivery_verified"
	TriggerReject           Trigger = "reject"
	TriggerReturn           Trigger = "return"
	TriggerRefund           Trigger = "refund"
)

// Boundary marks transitions that move money.
type Boundary string

const (
	BoundaryNone          Boundary = ""
	BoundarySellerPickup  Boundary = "pickup_from_seller"
	BoundaryBuyerDelivery Boundary = "buyer_delivery"
)

// binding identifies which order participant the actor must be.
type binding int

const (
	bindNone binding = iota
	bindBuyer
	bindSeller
	bindAgent
	bindAdmin
)

type edge struct {
	to       Status
	roles    []auth.Role
	bind     binding
	boundary Boundary
	// method restricts the edge to one delivery method; empty means both.
	method DeliveryMethod
	// methodRoles narrows the allowed roles per delivery method. When the
	// order's method has an entry here it replaces roles entirely.
	methodRoles map[DeliveryMethod][]auth.Role
}

type edgeKey struct {
	from    Status
	trigger Trigger
}

var (
	ErrInvalidTransition  = errors.New("order: invalid transition")
	ErrActorNotAuthorized = errors.New("order: actor not authorized")
	ErrAlreadyTerminal    = errors.New("order: already in terminal state")
	ErrNotFound           = errors.New("order: not found")
	ErrVersionConflict    = errors.New("order: concurrent modification")
	ErrAlreadyClaimed     = errors.New("order: already claimed by another agent")
)

var transitions = map[edgeKey]edge{
	{StatusPendingConfirmation, TriggerConfirm}: {to: StatusConfirmed, roles: []auth.Role{auth.RoleBuyer}, bind: bindBuyer},

	{StatusPendingConfirmation, TriggerCancel}: cancelEdge,
	{StatusConfirmed, TriggerCancel}:           cancelEdge,
	{StatusAssigned, TriggerCancel}:            cancelEdge,
	{StatusAgentEnRouteSeller, TriggerCancel}:  cancelEdge,

	// Claiming matches the agent kind to the delivery method: a home order
	// needs a fast-delivery agent, a pickup-site order a pickup-delivery
	// agent. A mismatched claim would strand the order after seller pickup.
	{StatusConfirmed, TriggerClaim}: {to: StatusAssigned, methodRoles: map[DeliveryMethod][]auth.Role{
		DeliveryHome:       {auth.RoleFastDeliveryAgent},
		DeliveryPickupSite: {auth.RolePickupDelivery},
	}},

	{StatusAssigned, TriggerStartPickup}: {to: StatusAgentEnRouteSeller, roles: []auth.Role{auth.RoleFastDeliveryAgent, auth.RolePickupDelivery}, bind: bindAgent},

	{StatusAgentEnRouteSeller, TriggerPickupVerified}: {
		to:       StatusPickedFromSeller,
		roles:    []auth.Role{auth.RoleFastDeliveryAgent, auth.RolePickupDelivery},
		bind:     bindAgent,
		boundary: BoundarySellerPickup,
	},

	{StatusPickedFromSeller, TriggerStartDelivery}: {to: StatusEnRouteToBuyer, roles: []auth.Role{auth.RoleFastDeliveryAgent}, bind: bindAgent, method: DeliveryHome},
	{StatusPickedFromSeller, TriggerArriveSite}:    {to: StatusAtPickupSite, roles: []auth.Role{auth.RolePickupDelivery}, bind: bindAgent, method: DeliveryPickupSite},

	{StatusAtPickupSite, TriggerSiteVerified}: {to: StatusSiteReceived, roles: []auth.Role{auth.RolePickupSiteManager}, method: DeliveryPickupSite},

	{StatusSiteReceived, TriggerStartDelivery}: {to: StatusEnRouteToBuyer, roles: []auth.Role{auth.RolePickupSiteManager}, bind: bindAgent, method: DeliveryPickupSite},

	{StatusEnRouteToBuyer, TriggerDeliveryVerified}: {
		to:       StatusDelivered,
		roles:    []auth.Role{auth.RoleFastDeliveryAgent, auth.RolePickupSiteManager},
		bind:     bindAgent,
		boundary: BoundaryBuyerDelivery,
	},

	{StatusEnRouteToBuyer, TriggerReject}: {to: StatusRejected, roles: []auth.Role{auth.RoleBuyer}, bind: bindBuyer},
	{StatusRejected, TriggerReturn}:       {to: StatusReturned, roles: []auth.Role{auth.RoleFastDeliveryAgent, auth.RolePickupDelivery, auth.RolePickupSiteManager}, bind: bindAgent},
	{StatusRejected, TriggerRefund}:       {to: StatusRefunded, roles: []auth.Role{auth.RoleAdmin}, bind: bindAdmin},
	{StatusReturned, TriggerRefund}:       {to: StatusRefunded, roles: []auth.Role{auth.RoleAdmin}, bind: bindAdmin},
}

var cancelEdge = edge{to: StatusCancelled, roles: []auth.Role{auth.RoleBuyer, auth.RoleAdmin}, bind: bindBuyer}

// resolve validates the edge and the actor against the order and returns the
// matched edge.
func resolve(ord Order, trigger Trigger, actor auth.Identity) (edge, error) {
	if ord.Status.IsTerminal() {
		return edge{}, fmt.Errorf("%w: %s", ErrAlreadyTerminal, ord.Status)
	}

	e, ok := transitions[edgeKey{ord.Status, trigger}]
	if !ok {
		return edge{}, fmt.Errorf("%w: no edge %q from %s", ErrInvalidTransition, trigger, ord.Status)
	}
	if e.method != "" && e.method != ord.DeliveryMethod {
		return edge{}, fmt.Errorf("%w: edge %q requires delivery method %s", ErrInvalidTransition, trigger, e.method)
	}

	allowed := e.roles
	if mr, ok := e.methodRoles[ord.DeliveryMethod]; ok {
		allowed = mr
	}
	if !roleAllowed(allowed, actor.Role) {
		return edge{}, fmt.Errorf("%w: role %s cannot trigger %q", ErrActorNotAuthorized, actor.Role, trigger)
	}

	switch e.bind {
	case bindBuyer:
		// Admin may act on buyer-bound edges that list the admin role.
		if actor.Role == auth.RoleAdmin {
			break
		}
		if ord.BuyerID != actor.UserID {
			return edge{}, fmt.Errorf("%w: not the buyer of record", ErrActorNotAuthorized)
		}
	case bindSeller:
		if ord.SellerID != actor.UserID {
			return edge{}, fmt.Errorf("%w: not the seller of record", ErrActorNotAuthorized)
		}
	case bindAgent:
		if ord.AssignedAgentID == nil || *ord.AssignedAgentID != actor.UserID {
			return edge{}, fmt.Errorf("%w: not the agent of record", ErrActorNotAuthorized)
		}
	case bindAdmin:
		if actor.Role != auth.RoleAdmin {
			return edge{}, fmt.Errorf("%w: admin only", ErrActorNotAuthorized)
		}
	}

	return e, nil
}

// MethodForAgent reports the delivery method a claiming agent role serves.
func MethodForAgent(role auth.Role) (DeliveryMethod, bool) {
	switch role {
	case auth.RoleFastDeliveryAgent:
		return DeliveryHome, true
	case auth.RolePickupDelivery:
		return DeliveryPickupSite, true
	}
	return "", false
}

func roleAllowed(roles []auth.Role, role auth.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Peek reports the target status and money boundary for an edge without
// touching any state. Used by callers that gate work on an upcoming
// transition.
func Peek(ord Order, trigger Trigger, actor auth.Identity) (Status, Boundary, error) {
	e, err := resolve(ord, trigger, actor)
	if err != nil {
		return "", BoundaryNone, err
	}
	return e.to, e.boundary, nil
}
