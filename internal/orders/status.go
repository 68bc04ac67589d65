package orders

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Any status may be set to any other; there is no transition table.
var knownStatuses = map[Status]bool{
	StatusPending:   true,
	StatusCompleted: true,
	StatusCancelled: true,
}

func (s Status) Valid() bool { return knownStatuses[s] }

// ParseStatus accepts the wire values case-insensitively ("PENDING" and "pending" are the same).
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return &ValidationError{Field: "status", Reason: "must be a string"}
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
