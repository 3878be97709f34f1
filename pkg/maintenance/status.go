package maintenance

import "fmt"

// Status is the urgency of an interval or machine. Values are ordered:
// StatusOK < StatusWarning < StatusCritical.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
)

var statusNames = map[Status]string{
	StatusOK:       "ok",
	StatusWarning:  "warning",
	StatusCritical: "critical",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts "ok", "warning" or "critical" to a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusOK, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Worst returns the more urgent of a and b.
func Worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
