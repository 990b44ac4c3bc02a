package domain

import (
	"context"
	"strings"
)

// Location is a subscriber's last known position.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point converts the location to a geometry point.
func (l Location) Point() Point { return Point{Lon: l.Lon, Lat: l.Lat} }

// Preferences are owned by the preferences service and read as snapshots.
type Preferences struct {
	MinSeverity  Severity `json:"minSeverity"`
	AlertTypes   []string `json:"alertTypes,omitempty"`
	MutedSenders []string `json:"mutedSenders,omitempty"`
}

// Accepts reports whether the subscriber wants to be notified about alert.
// An empty AlertTypes list accepts every event.
func (p Preferences) Accepts(alert Alert) bool {
	if !alert.Severity.AtLeast(p.MinSeverity) {
		return false
	}
	for _, muted := range p.MutedSenders {
		if strings.EqualFold(strings.TrimSpace(muted), alert.Sender) {
			return false
		}
	}
	if len(p.AlertTypes) == 0 {
		return true
	}
	event := strings.ToLower(alert.Event())
	if event == "" {
		return false
	}
	for _, t := range p.AlertTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(event, t) {
			return true
		}
	}
	return false
}

// Subscriber is a user who may receive direct alert notifications.
type Subscriber struct {
	UserID      string      `json:"userId"`
	Location    *Location   `json:"location,omitempty"`
	Preferences Preferences `json:"preferences"`
}

// SubscriberSource lists the subscribers eligible for direct delivery.
type SubscriberSource interface {
	Subscribers(ctx context.Context) ([]Subscriber, error)
}
