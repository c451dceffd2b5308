package models

import (
	"fmt"
	"strings"
	"time"
)

// SlotDateLayout is the calendar date format used for appointment slots.
const SlotDateLayout = "2006-01-02"

// AppointmentSlot is an admin-published verification window.
type AppointmentSlot struct {
	Date      string    `db:"slot_date" json:"date"`
	Label     string    `db:"label" json:"label"`
	Published bool      `db:"published" json:"published"`
	UpdatedBy string    `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Key returns the slot identifier "YYYY-MM-DD/<label>".
func (s AppointmentSlot) Key() string {
	return SlotKey(s.Date, s.Label)
}

// SlotKey joins a date and label into a slot identifier.
func SlotKey(date, label string) string {
	return date + "/" + label
}

// ParseSlotKey splits "YYYY-MM-DD/<label>" and validates the date.
func ParseSlotKey(key string) (date, label string, err error) {
	date, label, ok := strings.Cut(strings.TrimSpace(key), "/")
	if !ok || date == "" || strings.TrimSpace(label) == "" {
		return "", "", fmt.Errorf("slot %q must look like YYYY-MM-DD/<label>", key)
	}
	if _, err := time.Parse(SlotDateLayout, date); err != nil {
		return "", "", fmt.Errorf("slot %q has invalid date: %w", key, err)
	}
	return date, strings.TrimSpace(label), nil
}
