package attendance

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

var statuses = []Status{StatusPresent, StatusLate, StatusAbsent, StatusExcused}

// Statuses lists every status in display order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// ParseStatus accepts any letter case and rejects values outside the enum.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, s := range statuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown attendance status %q", value)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}
