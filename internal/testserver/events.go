package testserver

import "time"

// Notification categories the demo emitter cycles through.
const (
	CategoryContract    = "contract"
	CategoryCustomer    = "customer"
	CategoryProperty    = "property"
	CategoryAppointment = "appointment"
)

// Notification is the frame every stream endpoint sends. Category is the
// discriminant the client dispatches on; the rest is opaque to it.
type Notification struct {
	Category string `json:"category"`
	ID       string `json:"id"`
	TS       string `json:"ts"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all frames.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
