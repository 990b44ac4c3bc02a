package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Severity is the ordinal alert severity ladder.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityMinor
	SeverityModerate
	SeveritySevere
	SeverityExtreme
)

var severityNames = map[Severity]string{
	SeverityUnknown:  "Unknown",
	SeverityMinor:    "Minor",
	SeverityModerate: "Moderate",
	SeveritySevere:   "Severe",
	SeverityExtreme:  "Extreme",
}

// LookupSeverity resolves a severity name case-insensitively. The second
// result is false for names outside the ladder.
func LookupSeverity(s string) (Severity, bool) {
	s = strings.TrimSpace(s)
	for sev, name := range severityNames {
		if strings.EqualFold(s, name) {
			return sev, true
		}
	}
	return SeverityUnknown, false
}

// ParseSeverity is LookupSeverity with Unknown as the fallback.
func ParseSeverity(s string) Severity {
	sev, _ := LookupSeverity(s)
	return sev
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return severityNames[SeverityUnknown]
}

// AtLeast reports whether s meets the threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s >= threshold
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// normalizeLabel title-cases free-form enum values such as urgency and
// certainty, defaulting to "Unknown".
func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown"
	}
	// Casers are stateful, so one per call.
	return cases.Title(language.English).String(strings.ToLower(s))
}
