package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ResDream/TJU-vfmc-ticket/internal/auth"
	"github.com/ResDream/TJU-vfmc-ticket/internal/jobs"
)

type fakeJobs struct {
	created []jobs.Job
}

func (f *fakeJobs) Create(_ context.Context, j jobs.Job) (int64, error) {
	f.created = append(f.created, j)
	return int64(len(f.created)), nil
}

func (f *fakeJobs) ListByUser(context.Context, int64) ([]jobs.Job, error) {
	return nil, nil
}

func (f *fakeJobs) GetByIDForUser(context.Context, int64, int64) (jobs.Job, error) {
	return jobs.Job{}, nil
}

func (f *fakeJobs) ListAttempts(context.Context, int64, int) ([]jobs.Attempt, error) {
	return nil, nil
}

func testAuthStore() *auth.Store {
	return auth.NewStore(nil, bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
}

func authedPost(t *testing.T, store *auth.Store, userID int64, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	require.NoError(t, store.SetSession(rec, req, userID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	req.AddCookie(cookies[0])
	return req
}

func jobForm() url.Values {
	form := url.Values{}
	form.Set("name", "badminton friday")
	form.Set("venue_no", "005")
	form.Set("field_type_no", "017")
	form.Set("time_period", "evening")
	form.Set("date_offset", "7")
	form.Set("preferred_times", "19:00,20:00")
	form.Set("release_date", "2026-09-01")
	form.Set("release_time", "21:00")
	form.Set("lead_minutes", "1")
	form.Set("window_minutes", "20")
	form.Set("interval_seconds", "1")
	form.Set("max_attempts", "50")
	return form
}

func TestJobCreateUsesVenueTimezone(t *testing.T) {
	store := testAuthStore()
	fj := &fakeJobs{}
	s := &Server{
		Auth: store,
		Jobs: fj,
		Log:  zap.NewNop(),
		// the venue's zone, regardless of where the server runs
		Loc: time.FixedZone("CST", 8*3600),
	}

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, authedPost(t, store, 42, "/jobs/create", jobForm()))
	require.Equal(t, http.StatusFound, rec.Code)

	require.Len(t, fj.created, 1)
	j := fj.created[0]
	assert.Equal(t, int64(42), j.UserID)
	assert.Equal(t, []string{"19:00", "20:00"}, j.PreferredTimes)

	// 21:00 UTC+8 release, 1 minute lead, 20 minute window, stored in UTC
	wantStart := time.Date(2026, 9, 1, 12, 59, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 9, 1, 13, 20, 0, 0, time.UTC)
	assert.True(t, j.WindowStartAt.Equal(wantStart), j.WindowStartAt.String())
	assert.True(t, j.WindowEndAt.Equal(wantEnd), j.WindowEndAt.String())
}

func TestJobCreateRejectsBadRelease(t *testing.T) {
	store := testAuthStore()
	fj := &fakeJobs{}
	s := &Server{Auth: store, Jobs: fj, Log: zap.NewNop(), Loc: time.UTC}

	form := jobForm()
	form.Set("release_date", "tomorrowish")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, authedPost(t, store, 42, "/jobs/create", form))

	assert.Equal(t, http.StatusOK, rec.Code) // form re-rendered with the error
	assert.Empty(t, fj.created)
}

func TestJobCreateRequiresSession(t *testing.T) {
	s := &Server{Auth: testAuthStore(), Jobs: &fakeJobs{}, Log: zap.NewNop()}

	req := httptest.NewRequest(http.MethodPost, "/jobs/create", strings.NewReader(jobForm().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
