package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
)

func validJob() Job {
	start := time.Date(2026, 9, 1, 20, 55, 0, 0, time.UTC)
	return Job{
		UserID:         1,
		Name:           "badminton friday",
		VenueNo:        "005",
		FieldTypeNo:    "017",
		TimePeriod:     booking.Evening,
		DateOffset:     7,
		PreferredTimes: []string{"19:00", "20:00"},
		WindowStartAt:  start,
		WindowEndAt:    start.Add(20 * time.Minute),
		IntervalSec:    1,
		MaxAttempts:    50,
	}
}

func TestJobValidate(t *testing.T) {
	assert.NoError(t, validJob().Validate())

	j := validJob()
	j.Name = "  "
	assert.Error(t, j.Validate())

	j = validJob()
	j.VenueNo = ""
	assert.Error(t, j.Validate())

	j = validJob()
	j.TimePeriod = booking.TimePeriod(5)
	assert.Error(t, j.Validate())

	j = validJob()
	j.WindowEndAt = j.WindowStartAt
	assert.Error(t, j.Validate())

	j = validJob()
	j.WindowEndAt = j.WindowStartAt.Add(-time.Minute)
	assert.Error(t, j.Validate())

	j = validJob()
	j.IntervalSec = 0
	assert.Error(t, j.Validate())

	j = validJob()
	j.MaxAttempts = 0
	assert.Error(t, j.Validate())
}

func TestJobQuery(t *testing.T) {
	q := validJob().Query()
	assert.Equal(t, booking.Query{
		DateOffset:  7,
		TimePeriod:  booking.Evening,
		VenueNo:     "005",
		FieldTypeNo: "017",
	}, q)
}

func TestNextAttemptAt(t *testing.T) {
	j := validJob()
	assert.Equal(t, j.WindowStartAt, j.NextAttemptAt())

	last := j.WindowStartAt.Add(30 * time.Second)
	j.LastAttemptAt = &last
	j.IntervalSec = 10
	assert.Equal(t, last.Add(10*time.Second), j.NextAttemptAt())
}

func TestExhausted(t *testing.T) {
	j := validJob()
	j.MaxAttempts = 3
	j.AttemptCount = 2
	assert.False(t, j.Exhausted())
	j.AttemptCount = 3
	assert.True(t, j.Exhausted())
}
