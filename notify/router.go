package notify

import (
	"encoding/json"

	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/handoff"
	"orderflow/order"
	"orderflow/settlement"
)

// Router fans committed state changes out to interested connections. It is
// invoked strictly after the database commit; a missed push can only mean a
// stale UI, never a missed state change.
type Router struct {
	registry *Registry
	log      *zap.Logger
}

func NewRouter(registry *Registry, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{registry: registry, log: log}
}

// RouteToUser pushes an event to every connection signed in as the user.
func (r *Router) RouteToUser(userID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range r.registry.UserConns(userID) {
		c.push(msg)
	}
}

// RouteToOrderRoom pushes an event to every connection in the order's room.
func (r *Router) RouteToOrderRoom(orderID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range r.registry.RoomConns(orderRoom(orderID)) {
		c.push(msg)
	}
}

// BroadcastAll pushes an event to every registered connection.
func (r *Router) BroadcastAll(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range r.registry.AllConns() {
		c.push(msg)
	}
}

// OrderStatusChanged implements order.Notifier.
func (r *Router) OrderStatusChanged(change order.StatusChange) {
	ord := change.Order

	if change.Trigger == order.TriggerClaim && ord.AssignedAgentID != nil {
		r.RouteToUser(ord.BuyerID, Event{
			Name:    EventOrderAssigned,
			OrderID: ord.ID,
			Data: map[string]any{
				"agent_id": *ord.AssignedAgentID,
				"status":   ord.Status,
			},
		})
	}

	ev := Event{
		Name:    EventDeliveryStatus,
		OrderID: ord.ID,
		Data: map[string]any{
			"previous": change.Old,
			"status":   change.New,
			"trigger":  change.Trigger,
		},
	}
	r.RouteToOrderRoom(ord.ID, ev)
	r.RouteToUser(ord.BuyerID, ev)
	r.RouteToUser(ord.SellerID, ev)
	if ord.AssignedAgentID != nil {
		r.RouteToUser(*ord.AssignedAgentID, ev)
	}
}

// HandoffCompleted implements handoff.Notifier.
func (r *Router) HandoffCompleted(res handoff.Result) {
	name := EventDeliveryStatus
	switch res.Stage {
	case handoff.StageSiteHandoff:
		name = EventPDADeliveryToPSM
	case handoff.StageBuyerDelivery:
		if res.Change.Actor.Role == auth.RolePickupSiteManager {
			name = EventPSMConfirmsDelivery
		}
	}

	r.RouteToOrderRoom(res.Order.ID, Event{
		Name:    name,
		OrderID: res.Order.ID,
		Data: map[string]any{
			"stage":  res.Stage,
			"status": res.Order.Status,
		},
	})
}

// PayoutDecided implements approval.Notifier.
func (r *Router) PayoutDecided(req settlement.PayoutRequest) {
	r.RouteToUser(req.BeneficiaryID, Event{
		Name:    EventPaymentStatus,
		OrderID: req.OrderID,
		Data: map[string]any{
			"request_id": req.ID,
			"category":   req.ApprovalType,
			"status":     req.Status,
			"amount":     req.Amount,
		},
	})
}
