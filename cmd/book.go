package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/runner"
	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

func newBookCmd() *cobra.Command {
	var (
		venueNo     string
		fieldTypeNo string
		dateOffset  int
		periods     string
		times       string
		maxAttempts int
		waitUntil   string
	)

	c := &cobra.Command{
		Use:   "book",
		Short: "Book now: poll availability and grab a slot, one task per time period",
		Long: `Book runs the fetch/select/submit loop immediately using the vendor
cookies from the config. --periods takes a comma list; each period becomes
its own parallel task. --times is a comma list of HH:MM preferences shared
by every task, or per-period lists separated by ';' in --periods order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if venueNo == "" {
				venueNo = cfg.VenueNo
			}
			if fieldTypeNo == "" {
				fieldTypeNo = cfg.FieldTypeNo
			}
			if dateOffset < 0 {
				dateOffset = cfg.DateOffset
			}
			if periods == "" {
				periods = cfg.TimePeriods
			}
			if times == "" {
				times = cfg.PreferredTimes
			}
			if maxAttempts < 1 {
				maxAttempts = cfg.MaxAttempts
			}
			if waitUntil == "" {
				waitUntil = cfg.ReleaseTime
			}

			creds := cfg.Credentials()
			if err := creds.Validate(); err != nil {
				return fmt.Errorf("vendor cookies: %w", err)
			}

			tasks, err := buildTasks(creds, cfg.VfmcBaseURL, cfg.RateLimitRPS, venueNo, fieldTypeNo, dateOffset, periods, times)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if waitUntil != "" {
				target, err := todayAt(waitUntil)
				if err != nil {
					return fmt.Errorf("invalid --wait-until: %w", err)
				}
				if err := runner.WaitUntil(ctx, target, log); err != nil {
					return err
				}
			}

			r := runner.New(log)
			r.MaxAttempts = maxAttempts
			r.Pause = cfg.AttemptPause()

			results, err := r.RunAll(ctx, tasks)
			for _, res := range results {
				fmt.Fprintf(os.Stdout, "booked %s: %s %s-%s\n", res.Task, res.Slot.FieldName, res.Slot.BeginTime, res.Slot.EndTime)
			}
			return err
		},
	}

	c.Flags().StringVar(&venueNo, "venue", "", "venue number (default from config)")
	c.Flags().StringVar(&fieldTypeNo, "field-type", "", "field type number (default from config)")
	c.Flags().IntVar(&dateOffset, "date-offset", -1, "days from today (default from config)")
	c.Flags().StringVar(&periods, "periods", "", "time periods, comma-separated (morning|afternoon|evening)")
	c.Flags().StringVar(&times, "times", "", "preferred begin times HH:MM; ';' separates per-period lists")
	c.Flags().IntVar(&maxAttempts, "max-attempts", 0, "booking cycles per task (default from config)")
	c.Flags().StringVar(&waitUntil, "wait-until", "", "hold until local HH:MM before starting")

	return c
}

func buildTasks(creds vfmc.Credentials, baseURL string, rps float64, venueNo, fieldTypeNo string, dateOffset int, periods, times string) ([]runner.Task, error) {
	periodNames := booking.NormalizeTimes(periods) // same comma-list cleanup
	if len(periodNames) == 0 {
		return nil, fmt.Errorf("no time periods given")
	}

	perPeriod := strings.Split(times, ";")
	if len(perPeriod) != 1 && len(perPeriod) != len(periodNames) {
		return nil, fmt.Errorf("--times has %d ';' groups for %d periods", len(perPeriod), len(periodNames))
	}

	client := vfmc.New(creds,
		vfmc.WithBaseURL(baseURL),
		vfmc.WithRateLimit(rps, int(rps)+1),
	)

	tasks := make([]runner.Task, 0, len(periodNames))
	for i, name := range periodNames {
		period, err := booking.ParseTimePeriod(name)
		if err != nil {
			return nil, err
		}
		group := perPeriod[0]
		if len(perPeriod) > 1 {
			group = perPeriod[i]
		}
		tasks = append(tasks, runner.Task{
			Name:     period.String(),
			Provider: client,
			Query: booking.Query{
				DateOffset:  dateOffset,
				TimePeriod:  period,
				VenueNo:     venueNo,
				FieldTypeNo: fieldTypeNo,
			},
			PreferredTimes: booking.NormalizeTimes(group),
		})
	}
	return tasks, nil
}

func todayAt(hhmm string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", strings.TrimSpace(hhmm), time.Local)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.Local), nil
}
