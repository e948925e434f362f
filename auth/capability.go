package auth

// Action names an operation a caller may attempt against an order or a
// payout request. Role checks live here and nowhere else; endpoints must not
// re-implement them.
type Action string

const (
	ActionConfirmOrder      Action = "order.confirm"
	ActionCancelOrder       Action = "order.cancel"
	ActionClaimOrder        Action = "order.claim"
	ActionListAvailable     Action = "order.list_available"
	ActionStartPickup       Action = "order.start_pickup"
	ActionStartDelivery     Action = "order.start_delivery"
	ActionIssuePickupCode   Action = "handoff.issue_pickup_code"
	ActionVerifyPickup      Action = "handoff.verify_pickup"
	ActionIssueDeliveryCode Action = "handoff.issue_delivery_code"
	ActionConfirmDelivery   Action = "handoff.confirm_delivery"
	ActionIssueSiteCode     Action = "handoff.issue_site_code"
	ActionVerifySiteHandoff Action = "handoff.verify_site"
	ActionListApprovals     Action = "approval.list"
	ActionDecideApproval    Action = "approval.decide"
)

var capabilities = map[Action][]Role{
	ActionConfirmOrder:      {RoleBuyer},
	ActionCancelOrder:       {RoleBuyer, RoleAdmin},
	ActionClaimOrder:        {RoleFastDeliveryAgent, RolePickupDelivery},
	ActionListAvailable:     {RoleFastDeliveryAgent, RolePickupDelivery},
	ActionStartPickup:       {RoleFastDeliveryAgent, RolePickupDelivery},
	ActionStartDelivery:     {RoleFastDeliveryAgent, RolePickupSiteManager},
	ActionIssuePickupCode:   {RoleSeller},
	ActionVerifyPickup:      {RoleFastDeliveryAgent, RolePickupDelivery},
	ActionIssueDeliveryCode: {RoleBuyer},
	ActionConfirmDelivery:   {RoleFastDeliveryAgent, RolePickupSiteManager},
	ActionIssueSiteCode:     {RolePickupDelivery},
	ActionVerifySiteHandoff: {RolePickupSiteManager},
	ActionListApprovals:     {RoleAdmin},
	ActionDecideApproval:    {RoleAdmin},
}

// CanPerform reports whether the role may attempt the action. It says nothing
// about whether the caller is the participant of record for a specific order;
// that binding is checked where the order row is loaded.
func CanPerform(role Role, action Action) bool {
	allowed, ok := capabilities[action]
	if !ok {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
