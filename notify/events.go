package notify

// Event names pushed over the realtime channel.
const (
	EventOrderAssigned       = "order:assigned"
	EventDeliveryStatus      = "delivery:status_update"
	EventPaymentStatus       = "payment:status_update"
	EventPSMConfirmsDelivery = "psm_confirms_delivery"
	EventPDADeliveryToPSM    = "pda_delivery_to_psm"
	EventChatJoin            = "chat:join"
	EventChatNewMessage      = "chat:new_message"
	EventLocationShare       = "location:share"
	EventLocationShared      = "location_shared"
	EventLogin               = "login"
)

// Event is one message on the realtime channel, inbound or outbound.
type Event struct {
	Name    string         `json:"event"`
	OrderID string         `json:"order_id,omitempty"`
	Token   string         `json:"token,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// orderRoom names the room every party to an order may join.
func orderRoom(orderID string) string {
	return "order_" + orderID
}
