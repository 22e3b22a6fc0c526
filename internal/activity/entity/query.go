package entity

import (
	"net/url"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

// Filter narrows a listing. Zero values mean "any".
type Filter struct {
	Status   Status
	Priority Priority
	Category string
	DateFrom string
	DateTo   string
}

// FilterFromQuery reads status, priority, category, dateFrom and dateTo.
func FilterFromQuery(v url.Values) (Filter, error) {
	var f Filter
	var err error
	if raw := v.Get("status"); raw != "" {
		if f.Status, err = ParseStatus(raw); err != nil {
			return f, err
		}
	}
	if raw := v.Get("priority"); raw != "" {
		if f.Priority, err = ParsePriority(raw); err != nil {
			return f, err
		}
	}
	f.Category = strings.TrimSpace(v.Get("category"))
	if raw := v.Get("dateFrom"); raw != "" {
		d, err := ParseDate("dateFrom", raw)
		if err != nil {
			return f, err
		}
		f.DateFrom = d.Format(DateLayout)
	}
	if raw := v.Get("dateTo"); raw != "" {
		d, err := ParseDate("dateTo", raw)
		if err != nil {
			return f, err
		}
		f.DateTo = d.Format(DateLayout)
	}
	if f.DateFrom != "" && f.DateTo != "" && f.DateTo < f.DateFrom {
		return f, apperr.Validation("dateTo must not be before dateFrom")
	}
	return f, nil
}

// Stats aggregates one user's activities.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"byStatus"`
	ByPriority map[Priority]int `json:"byPriority"`
	ByCategory map[string]int   `json:"byCategory"`
	ThisWeek   int              `json:"thisWeek"`
	ThisMonth  int              `json:"thisMonth"`
}

// NewStats returns Stats with every status and priority present at zero.
func NewStats() *Stats {
	s := &Stats{
		ByStatus:   make(map[Status]int, len(statuses)),
		ByPriority: make(map[Priority]int, len(priorities)),
		ByCategory: map[string]int{},
	}
	for _, st := range statuses {
		s.ByStatus[st] = 0
	}
	for _, p := range priorities {
		s.ByPriority[p] = 0
	}
	return s
}

// Range is an inclusive date interval.
type Range struct {
	From string
	To   string
}

// WeekOf returns Monday through Sunday of the ISO week containing t.
func WeekOf(t time.Time) Range {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	return Range{From: monday.Format(DateLayout), To: monday.AddDate(0, 0, 6).Format(DateLayout)}
}

// MonthOf returns the first through last day of t's month.
func MonthOf(t time.Time) Range {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Range{From: first.Format(DateLayout), To: first.AddDate(0, 1, -1).Format(DateLayout)}
}
