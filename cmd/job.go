package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/db"
	"github.com/ResDream/TJU-vfmc-ticket/internal/jobs"
	"github.com/ResDream/TJU-vfmc-ticket/internal/migrate"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage booking jobs (non-UI)",
	}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		userID          int64
		name            string
		venueNo         string
		fieldTypeNo     string
		period          string
		dateOffset      int
		preferredTimes  string
		timezone        string
		releaseDate     string
		releaseTime     string
		leadMinutes     int
		windowMinutes   int
		intervalSeconds int
		maxAttempts     int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a job around the venue's release time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			tp, err := booking.ParseTimePeriod(period)
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
			releaseAt, err := time.ParseInLocation("2006-01-02 15:04", releaseDate+" "+releaseTime, loc)
			if err != nil {
				return fmt.Errorf("invalid --release-date/--release-time (want YYYY-MM-DD and HH:MM): %w", err)
			}

			j := jobs.Job{
				UserID:         userID,
				Name:           name,
				VenueNo:        venueNo,
				FieldTypeNo:    fieldTypeNo,
				TimePeriod:     tp,
				DateOffset:     dateOffset,
				PreferredTimes: booking.NormalizeTimes(preferredTimes),
				WindowStartAt:  releaseAt.Add(-time.Duration(leadMinutes) * time.Minute).UTC(),
				WindowEndAt:    releaseAt.Add(time.Duration(windowMinutes) * time.Minute).UTC(),
				IntervalSec:    intervalSeconds,
				MaxAttempts:    maxAttempts,
			}
			if err := j.Validate(); err != nil {
				return err
			}

			id, err := jobs.NewRepo(d).Create(ctx, j)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created job id=%d window_start_utc=%s window_end_utc=%s\n",
				id, j.WindowStartAt.Format(time.RFC3339), j.WindowEndAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().Int64Var(&userID, "user-id", 0, "owner user id")
	c.Flags().StringVar(&name, "name", "", "job name")
	c.Flags().StringVar(&venueNo, "venue", "005", "venue number")
	c.Flags().StringVar(&fieldTypeNo, "field-type", "017", "field type number")
	c.Flags().StringVar(&period, "period", "afternoon", "time period (morning|afternoon|evening)")
	c.Flags().IntVar(&dateOffset, "date-offset", 7, "days from today when the target date falls")
	c.Flags().StringVar(&preferredTimes, "times", "", "preferred begin times HH:MM, comma-separated")
	c.Flags().StringVar(&timezone, "timezone", "Asia/Shanghai", "timezone for release time math")
	c.Flags().StringVar(&releaseDate, "release-date", "", "date slots open YYYY-MM-DD")
	c.Flags().StringVar(&releaseTime, "release-time", "21:00", "local release time HH:MM")
	c.Flags().IntVar(&leadMinutes, "lead-minutes", 1, "start attempts N minutes before release")
	c.Flags().IntVar(&windowMinutes, "window-minutes", 20, "keep trying N minutes after release")
	c.Flags().IntVar(&intervalSeconds, "interval-seconds", 1, "pause between attempts")
	c.Flags().IntVar(&maxAttempts, "max-attempts", 50, "attempt ceiling")

	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("release-date")
	return c
}

func newJobListCmd() *cobra.Command {
	var userID int64
	c := &cobra.Command{
		Use:   "list",
		Short: "List jobs for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			js, err := jobs.NewRepo(d).ListByUser(ctx, userID)
			if err != nil {
				return err
			}
			for _, j := range js {
				fmt.Fprintf(os.Stdout, "id=%d name=%q status=%s attempts=%d/%d window=%s..%s times=%s\n",
					j.ID, j.Name, j.Status, j.AttemptCount, j.MaxAttempts,
					j.WindowStartAt.Format(time.RFC3339), j.WindowEndAt.Format(time.RFC3339),
					strings.Join(j.PreferredTimes, ","))
			}
			return nil
		},
	}
	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	_ = c.MarkFlagRequired("user-id")
	return c
}
