package domain

import (
	"fmt"
	"time"
)

// ApplySyntheticDefaults fills in the fields a hand-written test alert usually
// omits, so it can follow the normal webhook path. The validity window starts
// at now and lasts one hour.
func ApplySyntheticDefaults(raw *RawAlert, now time.Time) {
	if raw.Alert.ID == "" {
		raw.Alert.ID = fmt.Sprintf("test-%d", now.UnixNano())
	}
	if raw.MsgType == "" {
		raw.MsgType = "Test"
	}
	if raw.Severity == "" {
		raw.Severity = SeverityModerate.String()
	}
	if raw.Sender == "" {
		raw.Sender = "Alert Relay Test"
	}
	if raw.Start == 0 {
		raw.Start = float64(now.Unix())
	}
	if raw.End == 0 {
		raw.End = float64(now.Add(time.Hour).Unix())
	}
	if len(raw.Description) == 0 {
		raw.Description = []Description{{
			Language:    "En",
			Event:       "Test Alert",
			Headline:    "Test Weather Alert",
			Description: "This is a test alert. No action is required.",
		}}
	}
}
