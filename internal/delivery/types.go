package delivery

// Role audiences the resolver understands.
const (
	RoleAdmins   = "admin"
	RoleDelivery = "delivery"
)

// Request is one delivery request. Immutable; it lives only for the call
// that processes it.
type Request struct {
	UserIDs          []string       `json:"user_ids,omitempty"`
	NotificationType string         `json:"notification_type"`
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	URL              string         `json:"url,omitempty"`
	Icon             string         `json:"icon,omitempty"`
	ImageURL         string         `json:"image_url,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	BroadcastID      string         `json:"broadcast_id,omitempty"`
	SendToAdmins     bool           `json:"send_to_admins,omitempty"`
	SendToDelivery   bool           `json:"send_to_delivery,omitempty"`
	PreferenceFilter string         `json:"preference_filter,omitempty"`
}

// Payload is the decrypted JSON the subscribed device receives. The
// service worker rendering it is outside this engine.
type Payload struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Icon      string         `json:"icon"`
	URL       string         `json:"url"`
	Image     string         `json:"image,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Result is the aggregate outcome of one delivery request.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
