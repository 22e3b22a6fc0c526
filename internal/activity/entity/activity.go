package entity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	maxTitleLen    = 200
	maxCategoryLen = 100
)

// Activity is one calendar entry owned by exactly one user.
type Activity struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description"`
	Date        string    `db:"start_date" json:"date"`
	Time        *string   `db:"start_time" json:"time"`
	EndDate     *string   `db:"end_date" json:"endDate"`
	EndTime     *string   `db:"end_time" json:"endTime"`
	IsMultiDay  bool      `db:"is_multi_day" json:"isMultiDay"`
	IsMultiHour bool      `db:"is_multi_hour" json:"isMultiHour"`
	Status      Status    `db:"status" json:"status"`
	Priority    Priority  `db:"priority" json:"priority"`
	Category    *string   `db:"category" json:"category"`
	UserID      int64     `db:"user_id" json:"userId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Draft is the client payload for a new activity.
type Draft struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Date        string  `json:"date"`
	Time        *string `json:"time"`
	EndDate     *string `json:"endDate"`
	EndTime     *string `json:"endTime"`
	IsMultiDay  bool    `json:"isMultiDay"`
	IsMultiHour bool    `json:"isMultiHour"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Category    *string `json:"category"`
}

// Activity builds an unsaved activity owned by owner. Call Normalize before
// storing it.
func (d Draft) Activity(owner int64) Activity {
	return Activity{
		Title:       d.Title,
		Description: d.Description,
		Date:        d.Date,
		Time:        d.Time,
		EndDate:     d.EndDate,
		EndTime:     d.EndTime,
		IsMultiDay:  d.IsMultiDay,
		IsMultiHour: d.IsMultiHour,
		Status:      Status(d.Status),
		Priority:    Priority(d.Priority),
		Category:    d.Category,
		UserID:      owner,
	}
}

// Normalize trims and canonicalises every field, applies defaults and checks
// the schedule. It is run on creation and on the merged result of an update.
func (a *Activity) Normalize() error {
	a.Title = strings.TrimSpace(a.Title)
	if a.Title == "" {
		return apperr.Validation("title is required")
	}
	if utf8.RuneCountInString(a.Title) > maxTitleLen {
		return apperr.Validation("title must be at most %d characters", maxTitleLen)
	}
	a.Description = trimmedOrNil(a.Description)
	a.Category = trimmedOrNil(a.Category)
	if a.Category != nil && utf8.RuneCountInString(*a.Category) > maxCategoryLen {
		return apperr.Validation("category must be at most %d characters", maxCategoryLen)
	}

	var err error
	if a.Status, err = ParseStatus(string(a.Status)); err != nil {
		return err
	}
	if a.Priority, err = ParsePriority(string(a.Priority)); err != nil {
		return err
	}
	return a.normalizeSchedule()
}

func (a *Activity) normalizeSchedule() error {
	start, err := ParseDate("date", a.Date)
	if err != nil {
		return err
	}
	a.Date = start.Format(DateLayout)

	if a.Time, err = normalizeClock("time", a.Time); err != nil {
		return err
	}
	if a.EndTime, err = normalizeClock("endTime", a.EndTime); err != nil {
		return err
	}

	end := start
	if a.EndDate = trimmedOrNil(a.EndDate); a.EndDate != nil {
		if end, err = ParseDate("endDate", *a.EndDate); err != nil {
			return err
		}
		if end.Before(start) {
			return apperr.Validation("endDate must not be before date")
		}
		s := end.Format(DateLayout)
		a.EndDate = &s
	}
	// Without an end date the activity ends on its start day.
	if end.Equal(start) && a.Time != nil && a.EndTime != nil && *a.EndTime <= *a.Time {
		return apperr.Validation("endTime must be after time on the same day")
	}
	a.IsMultiDay = end.After(start)
	return nil
}

// Spans reports whether the activity occupies day d (YYYY-MM-DD).
func (a *Activity) Spans(d string) bool {
	if a.Date == d {
		return true
	}
	return a.EndDate != nil && a.Date <= d && d <= *a.EndDate
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be a date in YYYY-MM-DD format", field)
	}
	return t, nil
}

// ParseClock accepts HH:MM or HH:MM:SS and returns HH:MM.
func ParseClock(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{ClockLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(ClockLayout), nil
		}
	}
	return "", apperr.Validation("%s must be a time in HH:MM format", field)
}

func normalizeClock(field string, v *string) (*string, error) {
	v = trimmedOrNil(v)
	if v == nil {
		return nil, nil
	}
	c, err := ParseClock(field, *v)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
