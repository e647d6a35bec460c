package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ResDream/TJU-vfmc-ticket/internal/auth"
	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/creds"
	"github.com/ResDream/TJU-vfmc-ticket/internal/jobs"
	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

//go:embed templates/*.html static/*
var fs embed.FS

// JobStore is the slice of the jobs repo the dashboard needs.
type JobStore interface {
	Create(ctx context.Context, j jobs.Job) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]jobs.Job, error)
	GetByIDForUser(ctx context.Context, id, userID int64) (jobs.Job, error)
	ListAttempts(ctx context.Context, jobID int64, limit int) ([]jobs.Attempt, error)
}

type Server struct {
	Auth  *auth.Store
	Jobs  JobStore
	Creds *creds.Store
	Log   *zap.Logger
	Loc   *time.Location // venue timezone for release time math
}

func (s *Server) location() *time.Location {
	if s.Loc != nil {
		return s.Loc
	}
	return time.Local
}

type tmplData struct {
	Title string
	User  int64
	Flash string

	Jobs     []jobs.Job
	Job      jobs.Job
	Attempts []jobs.Attempt
	HasCreds bool
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/static/", http.FileServer(http.FS(fs)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/", s.Auth.RequireAuth(http.HandlerFunc(s.handleHome)))
	mux.Handle("/jobs/new", s.Auth.RequireAuth(http.HandlerFunc(s.handleJobNew)))
	mux.Handle("/jobs/create", s.Auth.RequireAuth(http.HandlerFunc(s.handleJobCreate)))
	mux.Handle("/jobs/view", s.Auth.RequireAuth(http.HandlerFunc(s.handleJobView)))
	mux.Handle("/credentials", s.Auth.RequireAuth(http.HandlerFunc(s.handleCredentials)))

	return mux
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	js, err := s.Jobs.ListByUser(r.Context(), uid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hasCreds, err := s.Creds.Has(r.Context(), uid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	flash := ""
	if !hasCreds {
		flash = "No vendor cookies on file; scheduled jobs cannot run."
	}
	s.render(w, "templates/jobs.html", tmplData{
		Title:    "Booking jobs",
		User:     uid,
		Jobs:     js,
		HasCreds: hasCreds,
		Flash:    flash,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/login.html", tmplData{Title: "Login"})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		id, err := s.Auth.Authenticate(r.Context(), username, r.FormValue("password"))
		if err != nil {
			s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
			return
		}
		if err := s.Auth.SetSession(w, r, id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleJobNew(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	s.render(w, "templates/new_job.html", tmplData{
		Title: "New job",
		User:  uid,
		Job: jobs.Job{
			VenueNo:        "005",
			FieldTypeNo:    "017",
			TimePeriod:     booking.Afternoon,
			DateOffset:     7,
			PreferredTimes: []string{"16:00", "17:00"},
			IntervalSec:    1,
			MaxAttempts:    50,
		},
	})
}

func (s *Server) handleJobCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fail := func(msg string, j jobs.Job) {
		s.render(w, "templates/new_job.html", tmplData{Title: "New job", User: uid, Flash: msg, Job: j})
	}

	period, err := booking.ParseTimePeriod(r.FormValue("time_period"))
	if err != nil {
		fail(err.Error(), jobs.Job{})
		return
	}
	dateOffset, _ := strconv.Atoi(r.FormValue("date_offset"))
	intervalSec, _ := strconv.Atoi(r.FormValue("interval_seconds"))
	maxAttempts, _ := strconv.Atoi(r.FormValue("max_attempts"))

	// The venue releases slots at a fixed wall-clock time in its own
	// zone; the window brackets it: start attempts a little early, give
	// up after window_minutes.
	releaseAt, err := time.ParseInLocation("2006-01-02 15:04",
		strings.TrimSpace(r.FormValue("release_date"))+" "+strings.TrimSpace(r.FormValue("release_time")),
		s.location())
	if err != nil {
		fail("Invalid release date/time", jobs.Job{})
		return
	}
	leadMin, _ := strconv.Atoi(r.FormValue("lead_minutes"))
	windowMin, _ := strconv.Atoi(r.FormValue("window_minutes"))
	if windowMin < 1 {
		windowMin = 20
	}

	j := jobs.Job{
		UserID:         uid,
		Name:           strings.TrimSpace(r.FormValue("name")),
		VenueNo:        strings.TrimSpace(r.FormValue("venue_no")),
		FieldTypeNo:    strings.TrimSpace(r.FormValue("field_type_no")),
		TimePeriod:     period,
		DateOffset:     dateOffset,
		PreferredTimes: booking.NormalizeTimes(r.FormValue("preferred_times")),
		WindowStartAt:  releaseAt.Add(-time.Duration(leadMin) * time.Minute).UTC(),
		WindowEndAt:    releaseAt.Add(time.Duration(windowMin) * time.Minute).UTC(),
		IntervalSec:    intervalSec,
		MaxAttempts:    maxAttempts,
	}
	if err := j.Validate(); err != nil {
		fail(err.Error(), j)
		return
	}

	if _, err := s.Jobs.Create(r.Context(), j); err != nil {
		s.Log.Error("create job failed", zap.Error(err))
		fail("Failed to create job", j)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleJobView(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	j, err := s.Jobs.GetByIDForUser(r.Context(), id, uid)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	attempts, err := s.Jobs.ListAttempts(r.Context(), j.ID, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/job.html", tmplData{
		Title:    j.Name,
		User:     uid,
		Job:      j,
		Attempts: attempts,
	})
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		hasCreds, err := s.Creds.Has(r.Context(), uid)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.render(w, "templates/credentials.html", tmplData{
			Title:    "Vendor cookies",
			User:     uid,
			HasCreds: hasCreds,
		})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := vfmc.Credentials{
			WXOpenID:     strings.TrimSpace(r.FormValue("wx_open_id")),
			LoginSource:  strings.TrimSpace(r.FormValue("login_source")),
			JWTUserToken: strings.TrimSpace(r.FormValue("jwt_user_token")),
			UserID:       strings.TrimSpace(r.FormValue("user_id")),
			LoginType:    strings.TrimSpace(r.FormValue("login_type")),
		}
		if err := s.Creds.Save(r.Context(), uid, c); err != nil {
			s.render(w, "templates/credentials.html", tmplData{
				Title: "Vendor cookies", User: uid, Flash: err.Error(),
			})
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.ParseFS(fs, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		s.Log.Error("render failed", zap.String("template", name), zap.Error(err))
	}
}

func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
