package entity

import (
	"bytes"
	"encoding/json"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

// Null returns a present Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

func (o Optional[T]) apply(dst **T) {
	if o.Set {
		*dst = o.Value
	}
}

// Patch is a partial update. Absent fields keep their stored value; null
// clears nullable fields.
type Patch struct {
	Title       Optional[string] `json:"title"`
	Description Optional[string] `json:"description"`
	Date        Optional[string] `json:"date"`
	Time        Optional[string] `json:"time"`
	EndDate     Optional[string] `json:"endDate"`
	EndTime     Optional[string] `json:"endTime"`
	IsMultiDay  Optional[bool]   `json:"isMultiDay"`
	IsMultiHour Optional[bool]   `json:"isMultiHour"`
	Status      Optional[string] `json:"status"`
	Priority    Optional[string] `json:"priority"`
	Category    Optional[string] `json:"category"`
}

// ApplyTo merges p into a. The caller re-validates the result with Normalize.
func (p Patch) ApplyTo(a *Activity) error {
	if p.Title.Set {
		if p.Title.Value == nil {
			return apperr.Validation("title cannot be null")
		}
		a.Title = *p.Title.Value
	}
	if p.Date.Set {
		if p.Date.Value == nil {
			return apperr.Validation("date cannot be null")
		}
		a.Date = *p.Date.Value
	}
	p.Description.apply(&a.Description)
	p.Time.apply(&a.Time)
	p.EndDate.apply(&a.EndDate)
	p.EndTime.apply(&a.EndTime)
	p.Category.apply(&a.Category)
	if p.IsMultiDay.Set && p.IsMultiDay.Value != nil {
		a.IsMultiDay = *p.IsMultiDay.Value
	}
	if p.IsMultiHour.Set && p.IsMultiHour.Value != nil {
		a.IsMultiHour = *p.IsMultiHour.Value
	}
	if p.Status.Set {
		if p.Status.Value == nil {
			return apperr.Validation("status cannot be null")
		}
		a.Status = Status(*p.Status.Value)
	}
	if p.Priority.Set {
		if p.Priority.Value == nil {
			return apperr.Validation("priority cannot be null")
		}
		a.Priority = Priority(*p.Priority.Value)
	}
	return nil
}
