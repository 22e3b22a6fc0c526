package entity

import (
	"strings"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusPostponed  Status = "postponed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var (
	statuses   = []Status{StatusTodo, StatusInProgress, StatusDone, StatusPostponed}
	priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}
)

func Statuses() []Status     { return append([]Status(nil), statuses...) }
func Priorities() []Priority { return append([]Priority(nil), priorities...) }

// ParseStatus validates raw; empty means the default.
func ParseStatus(raw string) (Status, error) {
	return parseEnum("status", raw, StatusTodo, statuses)
}

// ParsePriority validates raw; empty means the default.
func ParsePriority(raw string) (Priority, error) {
	return parseEnum("priority", raw, PriorityMedium, priorities)
}

func parseEnum[T ~string](field, raw string, def T, allowed []T) (T, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	for _, v := range allowed {
		if string(v) == raw {
			return v, nil
		}
	}
	names := make([]string, len(allowed))
	for i, v := range allowed {
		names[i] = string(v)
	}
	return "", apperr.Validation("invalid %s %q, expected one of: %s", field, raw, strings.Join(names, ", "))
}
