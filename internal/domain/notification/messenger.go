package notification

import "context"

// Message is one push notification. Route and Data ride in the payload so the
// app can open the screen the message is about.
type Message struct {
	Title string
	Body  string
	Route string
	Data  map[string]string
}

// Payload returns the data map sent with the push, including the route
func (m Message) Payload() map[string]string {
	out := make(map[string]string, len(m.Data)+1)
	for k, v := range m.Data {
		out[k] = v
	}
	if m.Route != "" {
		out["route"] = m.Route
	}
	return out
}

// DeliveryReport summarizes one fan-out. DeadTokens lists devices the push
// service will never accept again.
type DeliveryReport struct {
	Delivered  int
	Failed     int
	DeadTokens []string
}

// Messenger fans a message out to device tokens.
// Implemented by the Firebase FCM client in the infrastructure layer.
type Messenger interface {
	Deliver(ctx context.Context, tokens []string, msg Message) (*DeliveryReport, error)
}
