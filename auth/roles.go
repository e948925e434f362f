package auth

// Role is the closed set of participant roles recognised by the platform.
type Role string

const (
	RoleBuyer             Role = "buyer"
	RoleSeller            Role = "seller"
	RoleFastDeliveryAgent Role = "fast_delivery_agent"
	RolePickupDelivery    Role = "pickup_delivery_agent"
	RolePickupSiteManager Role = "pickup_site_manager"
	RoleAdmin             Role = "admin"
)

// Identity is the authenticated caller as extracted from a verified token.
type Identity struct {
	UserID string
	Role   Role
}

// IsAgent reports whether the role is one of the custody-carrying agent roles.
func (r Role) IsAgent() bool {
	switch r {
	case RoleFastDeliveryAgent, RolePickupDelivery, RolePickupSiteManager:
		return true
	default:
		return false
	}
}

func IsValidRole(role Role) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleFastDeliveryAgent, RolePickupDelivery, RolePickupSiteManager, RoleAdmin:
		return true
	default:
		return false
	}
}
