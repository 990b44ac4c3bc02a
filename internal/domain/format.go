package domain

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Icon keys resolved by the publisher to static image assets.
const (
	IconUnknown = "unknown"
	IconWarning = "warning"
)

const (
	shortTitleMax = 100
	timeLayout    = "Jan 2, 2006 15:04 MST"
)

// eventIcons is matched in order against the lowercased event name.
var eventIcons = []struct {
	keywords []string
	icon     string
}{
	{[]string{"tornado"}, "tornado"},
	{[]string{"hurricane", "tropical"}, "hurricane"},
	{[]string{"thunderstorm", "lightning"}, "thunderstorm"},
	{[]string{"flood"}, "flood"},
	{[]string{"blizzard", "winter", "snow", "ice storm", "freez"}, "winter"},
	{[]string{"heat"}, "heat"},
	{[]string{"wind"}, "wind"},
	{[]string{"fire", "red flag"}, "fire"},
	{[]string{"fog"}, "fog"},
	{[]string{"dust"}, "dust"},
	{[]string{"tsunami"}, "tsunami"},
	{[]string{"hail"}, "hail"},
}

var severityIcons = map[Severity]string{
	SeverityExtreme:  "extreme",
	SeveritySevere:   "severe",
	SeverityModerate: "moderate",
	SeverityMinor:    "minor",
}

// The area phrase may wrap across lines. It ends at a blank line, a bullet,
// or the next upper-case section marker such as WHEN... or IMPACTS....
var wherePattern = regexp.MustCompile(`(?is)WHERE\.\.\.\s*(.+?)(?:\n\s*\n|\n\s*\*|\n\s*(?-i:[A-Z]{2,})\.\.\.|$)`)

// FormattedAlert is the presentation form of an alert, built once per gated
// alert and reused for every delivery.
type FormattedAlert struct {
	Title       string
	Content     string
	Icon        string
	Severity    Severity
	Urgency     string
	Certainty   string
	StartTime   time.Time
	EndTime     time.Time
	Source      string
	AlertID     string
	Event       string
	Coordinates *Point
	Original    *Alert
}

// NotificationAlert adds compact text for push-style notifications.
type NotificationAlert struct {
	FormattedAlert
	ShortTitle   string
	ShortContent string
}

// FormatAlertForPosting builds the presentation form of alert. It never fails:
// alerts without a description degrade to a minimal alert, and unreadable
// geometry leaves Coordinates nil.
func FormatAlertForPosting(alert Alert, logger *slog.Logger) FormattedAlert {
	original := alert
	fa := FormattedAlert{
		Severity:  alert.Severity,
		Urgency:   orUnknown(alert.Urgency),
		Certainty: orUnknown(alert.Certainty),
		StartTime: alert.StartTime(),
		EndTime:   alert.EndTime(),
		Source:    alert.Sender,
		AlertID:   alert.ID,
		Original:  &original,
	}
	fa.Coordinates = extractCoordinates(alert, logger)

	desc, ok := alert.PrimaryDescription()
	if !ok {
		fa.Title = minimalTitle(alert.Severity)
		sender := alert.Sender
		if sender == "" {
			sender = "an unknown source"
		}
		fa.Content = fmt.Sprintf("A weather alert has been issued by %s.", sender)
		fa.Icon = IconUnknown
		return fa
	}

	event := strings.TrimSpace(desc.Event)
	fa.Event = event
	fa.Icon = selectIcon(event, alert.Severity)
	fa.Title = buildTitle(desc, alert.Severity)
	fa.Content = buildContent(fa, desc)
	return fa
}

// FormatAlertForNotification derives short title and content from the posting
// format.
func FormatAlertForNotification(alert Alert, logger *slog.Logger) NotificationAlert {
	fa := FormatAlertForPosting(alert, logger)
	na := NotificationAlert{
		FormattedAlert: fa,
		ShortTitle:     truncate(fa.Title, shortTitleMax),
	}

	var parts []string
	sev := fa.Severity.String()
	if fa.Event != "" {
		parts = append(parts, fa.Event)
	}
	if fa.Severity != SeverityUnknown && !strings.Contains(strings.ToLower(fa.Event), strings.ToLower(sev)) {
		if len(parts) > 0 {
			parts[0] = fmt.Sprintf("%s (%s)", parts[0], sev)
		} else {
			parts = append(parts, sev+" alert")
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "Weather alert")
	}
	short := parts[0]
	if desc, ok := alert.PrimaryDescription(); ok {
		if area := extractArea(desc.Description); area != "" {
			short = fmt.Sprintf("%s for %s", short, area)
		}
	}
	na.ShortContent = short
	return na
}

func minimalTitle(sev Severity) string {
	if sev == SeverityUnknown {
		return "Weather Alert"
	}
	return sev.String() + " Weather Alert"
}

func selectIcon(event string, sev Severity) string {
	lower := strings.ToLower(event)
	if lower != "" {
		for _, entry := range eventIcons {
			for _, kw := range entry.keywords {
				if strings.Contains(lower, kw) {
					return entry.icon
				}
			}
		}
	}
	if icon, ok := severityIcons[sev]; ok {
		return icon
	}
	return IconWarning
}

func buildTitle(desc Description, sev Severity) string {
	if h := strings.TrimSpace(desc.Headline); h != "" {
		return h
	}
	if e := strings.TrimSpace(desc.Event); e != "" {
		return fmt.Sprintf("%s - %s", e, sev)
	}
	return sev.String() + " Weather Alert"
}

func buildContent(fa FormattedAlert, desc Description) string {
	var sections []string
	if fa.Event != "" && !strings.Contains(strings.ToLower(fa.Title), strings.ToLower(fa.Event)) {
		sections = append(sections, fa.Event)
	}
	if d := strings.TrimSpace(desc.Description); d != "" {
		sections = append(sections, d)
	}
	if in := strings.TrimSpace(desc.Instruction); in != "" {
		sections = append(sections, "INSTRUCTIONS: "+in)
	}
	sections = append(sections, fmt.Sprintf("Severity: %s\nUrgency: %s\nCertainty: %s",
		fa.Severity, fa.Urgency, fa.Certainty))
	if w := validityWindow(fa.StartTime, fa.EndTime); w != "" {
		sections = append(sections, w)
	}
	if fa.Source != "" {
		sections = append(sections, "Source: "+fa.Source)
	}
	return strings.Join(sections, "\n\n")
}

func validityWindow(start, end time.Time) string {
	switch {
	case !start.IsZero() && !end.IsZero():
		return fmt.Sprintf("Valid from %s until %s", start.Format(timeLayout), end.Format(timeLayout))
	case !start.IsZero():
		return "Effective: " + start.Format(timeLayout)
	case !end.IsZero():
		return "Expires: " + end.Format(timeLayout)
	default:
		return ""
	}
}

func extractCoordinates(alert Alert, logger *slog.Logger) *Point {
	if alert.Geometry == nil {
		return nil
	}
	p, ok := alert.Geometry.FirstVertex()
	if !ok {
		if logger != nil {
			logger.Warn("could not extract alert coordinates",
				"alert_id", alert.ID,
				"geometry_type", alert.Geometry.Type,
			)
		}
		return nil
	}
	return &p
}

func extractArea(description string) string {
	m := wherePattern.FindStringSubmatch(description)
	if len(m) < 2 {
		return ""
	}
	area := strings.Join(strings.Fields(m[1]), " ")
	return strings.TrimRight(area, ".")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
