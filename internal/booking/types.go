package booking

import (
	"context"
	"fmt"
	"strings"
)

// TimePeriod is the coarse partition of the day the vfmc API filters by.
type TimePeriod int

const (
	Morning   TimePeriod = 0
	Afternoon TimePeriod = 1
	Evening   TimePeriod = 2
)

func (p TimePeriod) String() string {
	switch p {
	case Morning:
		return "morning"
	case Afternoon:
		return "afternoon"
	case Evening:
		return "evening"
	default:
		return fmt.Sprintf("timeperiod(%d)", int(p))
	}
}

func (p TimePeriod) Valid() bool {
	return p == Morning || p == Afternoon || p == Evening
}

// ParseTimePeriod accepts a name ("morning") or a numeric value ("1").
func ParseTimePeriod(s string) (TimePeriod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning", "0":
		return Morning, nil
	case "afternoon", "1":
		return Afternoon, nil
	case "evening", "2":
		return Evening, nil
	}
	return 0, fmt.Errorf("invalid time period %q (want morning|afternoon|evening or 0|1|2)", s)
}

// Slot is one bookable field interval as reported by the venue API.
type Slot struct {
	FieldNo     string
	FieldTypeNo string
	FieldName   string
	FieldState  string
	BeginTime   string // "HH:MM" or "HH:MM:SS", venue-local
	EndTime     string
	Price       string
}

// Query identifies one availability lookup: which venue, which field type,
// which day (relative to today) and which part of the day.
type Query struct {
	DateOffset  int // days from today; the venue releases slots DateOffset days out
	TimePeriod  TimePeriod
	VenueNo     string
	FieldTypeNo string
}

func (q Query) Validate() error {
	if q.DateOffset < 0 {
		return fmt.Errorf("date offset must be >= 0")
	}
	if !q.TimePeriod.Valid() {
		return fmt.Errorf("invalid time period %d", int(q.TimePeriod))
	}
	if strings.TrimSpace(q.VenueNo) == "" {
		return fmt.Errorf("venue number required")
	}
	if strings.TrimSpace(q.FieldTypeNo) == "" {
		return fmt.Errorf("field type number required")
	}
	return nil
}

// Provider is the venue booking API surface the runner and scheduler drive.
type Provider interface {
	Name() string
	Ping(ctx context.Context, q Query) error
	FetchAvailable(ctx context.Context, q Query) ([]Slot, error)
	Book(ctx context.Context, q Query, s Slot) error
}
