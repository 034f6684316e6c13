package serialmux

import "strings"

const (
	EventTypeTracks  = "tracks"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload returns a coarse event type for a line from the radar.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(p, `"tracks"`) {
		return EventTypeTracks
	}
	return EventTypeStatus
}
