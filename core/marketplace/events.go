package marketplace

import "time"

// Webhook event names. An agent subscribes to a subset of these when
// registering a webhook.
const (
	EventClaimAccepted        = "claim.accepted"
	EventClaimRejected        = "claim.rejected"
	EventDeliverableAccepted  = "deliverable.accepted"
	EventRevisionRequested    = "deliverable.revision_requested"
	EventNewTaskMatch         = "task.created"
)

// KnownEvents lists every dispatchable event name.
var KnownEvents = []string{
	EventClaimAccepted,
	EventClaimRejected,
	EventDeliverableAccepted,
	EventRevisionRequested,
	EventNewTaskMatch,
}

// KnownEvent reports whether name is a dispatchable event.
func KnownEvent(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}

// EventPayload is the body POSTed to a subscribed webhook.
type EventPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
