package main

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jackdeye/LAHacks/internal/config"
	"github.com/jackdeye/LAHacks/internal/fetcher"
	"github.com/jackdeye/LAHacks/internal/forecast"
	"github.com/jackdeye/LAHacks/internal/ingest"
	"github.com/jackdeye/LAHacks/internal/notify"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/resilience"
	"github.com/jackdeye/LAHacks/internal/schedule"
	"github.com/jackdeye/LAHacks/internal/store"
	"github.com/jackdeye/LAHacks/internal/trend"
)

// newCLIMetrics returns metrics on a private registry. One-shot commands
// have no scrape endpoint.
func newCLIMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func newFetcher(sc config.SourcesConfig) *fetcher.HTTPFetcher {
	limiters := make(map[string]*rate.Limiter)
	for _, raw := range []string{sc.CountyURL, sc.StateURL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			limiters[u.Host] = rate.NewLimiter(rate.Every(time.Second), 2)
		}
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    sc.UserAgent,
		Timeout:      time.Duration(sc.TimeoutSecs) * time.Second,
		MaxRetries:   sc.MaxRetries,
		RateLimiters: limiters,
	})
}

func newLoader(c *config.Config, st store.Store, m *observability.Metrics, latestOnly bool) *ingest.Loader {
	return ingest.NewLoader(st, newFetcher(c.Sources), ingest.Options{
		CountyURL:  c.Sources.CountyURL,
		StateURL:   c.Sources.StateURL,
		LatestOnly: latestOnly,
	}, m)
}

func newTrainer(c *config.Config, st store.Store, m *observability.Metrics) *forecast.Trainer {
	model := forecast.Model{Window: c.Forecast.Window, Horizon: c.Forecast.Horizon}
	return forecast.NewTrainer(st, model, nil, m)
}

// newMailer returns an SMTP mailer, or a mailer that only logs when no
// relay host is configured.
func newMailer(nc config.NotifyConfig) notify.Mailer {
	if nc.SMTP.Host == "" {
		zap.L().Info("notify.smtp.host not set, emails will be logged only")
		return notify.LogMailer{}
	}
	return notify.NewSMTPMailer(notify.SMTPOptions{
		Host:     nc.SMTP.Host,
		Port:     nc.SMTP.Port,
		Username: nc.SMTP.Username,
		Password: nc.SMTP.Password,
		Retry:    resilience.FromSettings(nc.SMTP.MaxAttempts, nc.SMTP.InitialBackoffMs, nc.SMTP.MaxBackoffMs),
	})
}

func newNotifyJob(c *config.Config, st store.Store, m *observability.Metrics, dryRun bool) *notify.Job {
	return notify.NewJob(st, newMailer(c.Notify), trend.NewClassifier(nil, c.Notify.Threshold), notify.Options{
		From:         c.Notify.From,
		Subject:      c.Notify.Subject,
		UseForecasts: c.Notify.UseForecasts,
		DryRun:       dryRun,
	}, m)
}

// scheduledJobs returns the ingest, train and notify cycle.
func scheduledJobs(c *config.Config, st store.Store, m *observability.Metrics) []schedule.Job {
	loader := newLoader(c, st, m, c.Ingest.LatestOnly)
	trainer := newTrainer(c, st, m)
	job := newNotifyJob(c, st, m, false)

	return []schedule.Job{
		{Name: "ingest", Run: func(ctx context.Context) error {
			return ingestErr(loader.Run(ctx))
		}},
		{Name: "train", Run: func(ctx context.Context) error {
			_, err := trainer.Run(ctx)
			return err
		}},
		{Name: "notify", Run: func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		}},
	}
}

// ingestErr joins the errors of every failed ingest step.
func ingestErr(sum ingest.Summary) error {
	var errs []error
	for _, step := range sum.Steps {
		if step.Err != nil {
			errs = append(errs, eris.Wrapf(step.Err, "ingest %s", step.Source))
		}
	}
	return errors.Join(errs...)
}
