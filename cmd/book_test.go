package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

var bookCreds = vfmc.Credentials{JWTUserToken: "t", UserID: "u"}

func TestBuildTasksSharedTimes(t *testing.T) {
	tasks, err := buildTasks(bookCreds, vfmc.DefaultBaseURL, 5, "005", "017", 7, "afternoon,evening", "16:00,17:00")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "afternoon", tasks[0].Name)
	assert.Equal(t, booking.Afternoon, tasks[0].Query.TimePeriod)
	assert.Equal(t, []string{"16:00", "17:00"}, tasks[0].PreferredTimes)

	assert.Equal(t, "evening", tasks[1].Name)
	assert.Equal(t, []string{"16:00", "17:00"}, tasks[1].PreferredTimes)

	// both tasks share one client (one account session)
	assert.Same(t, tasks[0].Provider, tasks[1].Provider)
}

func TestBuildTasksPerPeriodTimes(t *testing.T) {
	tasks, err := buildTasks(bookCreds, vfmc.DefaultBaseURL, 5, "005", "017", 7, "afternoon,evening", "16:00;19:00,20:00")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"16:00"}, tasks[0].PreferredTimes)
	assert.Equal(t, []string{"19:00", "20:00"}, tasks[1].PreferredTimes)
}

func TestBuildTasksErrors(t *testing.T) {
	_, err := buildTasks(bookCreds, vfmc.DefaultBaseURL, 5, "005", "017", 7, "", "")
	assert.Error(t, err)

	_, err = buildTasks(bookCreds, vfmc.DefaultBaseURL, 5, "005", "017", 7, "afternoon", "a;b;c")
	assert.Error(t, err)

	_, err = buildTasks(bookCreds, vfmc.DefaultBaseURL, 5, "005", "017", 7, "midnight", "")
	assert.Error(t, err)
}

func TestTodayAt(t *testing.T) {
	got, err := todayAt("21:00")
	require.NoError(t, err)
	now := time.Now()
	assert.Equal(t, 21, got.Hour())
	assert.Equal(t, 0, got.Minute())
	assert.Equal(t, now.Day(), got.Day())

	_, err = todayAt("25:99")
	assert.Error(t, err)
}
