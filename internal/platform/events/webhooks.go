package events

import "time"

// ProviderWebhook is a provider push notification relayed onto Kafka by the edge gateway.
type ProviderWebhook struct {
	Provider   string    `json:"provider"`
	OwnerID    string    `json:"owner_id"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	AspectType string    `json:"aspect_type"`
	EventTime  time.Time `json:"event_time"`
}

// TriggersSync reports whether the notification describes new or changed activity data.
// Athlete deauthorizations and deletions are ignored.
func (w ProviderWebhook) TriggersSync() bool {
	switch w.ObjectType {
	case "activity", "trip", "":
	default:
		return false
	}
	switch w.AspectType {
	case "create", "update", "":
		return true
	}
	return false
}
