package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawAlert is the webhook payload as delivered by the upstream provider.
type RawAlert struct {
	Alert       RawAlertRef   `json:"alert"`
	MsgType     string        `json:"msg_type,omitempty"`
	Severity    string        `json:"severity,omitempty"`
	Urgency     string        `json:"urgency,omitempty"`
	Certainty   string        `json:"certainty,omitempty"`
	Start       float64       `json:"start,omitempty"`
	End         float64       `json:"end,omitempty"`
	Sender      string        `json:"sender,omitempty"`
	Description []Description `json:"description,omitempty"`
}

// RawAlertRef holds the identifying part of the payload.
type RawAlertRef struct {
	ID       string    `json:"id"`
	Geometry *Geometry `json:"geometry,omitempty"`
}

// UnmarshalJSON decodes the payload one field at a time. Upstream feeds send
// null or oddly typed values for fields they do not populate; such a field is
// left at its zero value instead of failing the whole payload. Only a payload
// that is not a JSON object is an error.
func (r *RawAlert) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = RawAlert{
		MsgType:     looseString(fields["msg_type"]),
		Severity:    looseString(fields["severity"]),
		Urgency:     looseString(fields["urgency"]),
		Certainty:   looseString(fields["certainty"]),
		Start:       looseNumber(fields["start"]),
		End:         looseNumber(fields["end"]),
		Sender:      looseString(fields["sender"]),
		Description: looseDescriptions(fields["description"]),
	}
	if err := json.Unmarshal(fields["alert"], &r.Alert); err != nil {
		r.Alert = RawAlertRef{}
	}
	return nil
}

// UnmarshalJSON keeps the id even when the geometry is unusable.
func (r *RawAlertRef) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = RawAlertRef{ID: looseString(fields["id"])}
	var g Geometry
	if err := json.Unmarshal(fields["geometry"], &g); err == nil && (g.Type != "" || len(g.Coordinates) > 0) {
		r.Geometry = &g
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// looseNumber accepts a JSON number or a numeric string.
func looseNumber(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(looseString(raw)), 64); err == nil {
		return f
	}
	return 0
}

func looseDescriptions(raw json.RawMessage) []Description {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Description, 0, len(items))
	for _, item := range items {
		var it map[string]json.RawMessage
		if err := json.Unmarshal(item, &it); err != nil || it == nil {
			continue
		}
		out = append(out, Description{
			Language:    looseString(it["language"]),
			Event:       looseString(it["event"]),
			Headline:    looseString(it["headline"]),
			Description: looseString(it["description"]),
			Instruction: looseString(it["instruction"]),
		})
	}
	return out
}

// Description is one locale-tagged rendering of an alert.
type Description struct {
	Language    string `json:"language,omitempty"`
	Event       string `json:"event,omitempty"`
	Headline    string `json:"headline,omitempty"`
	Description string `json:"description,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Alert is the parsed, normalized form of a webhook payload.
type Alert struct {
	ID           string
	Geometry     *Geometry
	MsgType      string
	Severity     Severity
	Urgency      string
	Certainty    string
	Start        int64 // unix seconds, 0 when absent
	End          int64 // unix seconds, 0 when absent
	Sender       string
	Descriptions []Description
}

// ParseAlert decodes a webhook payload into an Alert. Payloads without an
// alert id are rejected with ErrValidation.
func ParseAlert(data []byte) (Alert, error) {
	var raw RawAlert
	if err := json.Unmarshal(data, &raw); err != nil {
		return Alert{}, fmt.Errorf("%w: decode payload: %v", ErrValidation, err)
	}
	alert := raw.ToAlert()
	if err := alert.Validate(); err != nil {
		return Alert{}, err
	}
	return alert, nil
}

// ToAlert normalizes the wire fields. It does not validate.
func (r RawAlert) ToAlert() Alert {
	return Alert{
		ID:           strings.TrimSpace(r.Alert.ID),
		Geometry:     r.Alert.Geometry,
		MsgType:      r.MsgType,
		Severity:     ParseSeverity(r.Severity),
		Urgency:      normalizeLabel(r.Urgency),
		Certainty:    normalizeLabel(r.Certainty),
		Start:        int64(r.Start),
		End:          int64(r.End),
		Sender:       strings.TrimSpace(r.Sender),
		Descriptions: r.Description,
	}
}

// Validate reports ErrValidation for alerts that may not enter the pipeline.
func (a Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: alert.id is required", ErrValidation)
	}
	return nil
}

// StartTime returns the start of the validity window, or the zero time.
func (a Alert) StartTime() time.Time { return unixOrZero(a.Start) }

// EndTime returns the end of the validity window, or the zero time.
func (a Alert) EndTime() time.Time { return unixOrZero(a.End) }

// PrimaryDescription picks the English record when present, else the first one.
func (a Alert) PrimaryDescription() (Description, bool) {
	if len(a.Descriptions) == 0 {
		return Description{}, false
	}
	for _, d := range a.Descriptions {
		if strings.EqualFold(strings.TrimSpace(d.Language), "En") {
			return d, true
		}
	}
	return a.Descriptions[0], true
}

// Event returns the event name of the primary description, if any.
func (a Alert) Event() string {
	d, ok := a.PrimaryDescription()
	if !ok {
		return ""
	}
	return strings.TrimSpace(d.Event)
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// BotHandle is the authenticated chat identity handed to the pipeline by the
// hosting bot runtime.
type BotHandle interface {
	// Authenticate obtains a fresh token, replacing any previous one.
	Authenticate(ctx context.Context) error

	// AuthToken returns the current bearer token, or "" if not authenticated.
	AuthToken() string

	// Username is the bot's display name on the chat platform.
	Username() string
}
