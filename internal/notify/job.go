package notify

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"text/template"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/store"
	"github.com/jackdeye/LAHacks/internal/trend"
)

// Defaults for Options.
const (
	DefaultSubject = "Recent COVID Trends"
	DefaultFrom    = "noreply@wastewatchers.com"
)

// Email outcomes recorded in metrics.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "dry_run"
)

// Options configures a Job.
type Options struct {
	From         string
	Subject      string
	UseForecasts bool
	DryRun       bool
}

// Alert describes one region that crossed a threshold.
type Alert struct {
	Region     string `json:"region" yaml:"region"`
	Tier       string `json:"tier" yaml:"tier"`
	Recipients int    `json:"recipients" yaml:"recipients"`
}

// Summary reports the outcome of a Job run.
type Summary struct {
	Regions   int     `json:"regions" yaml:"regions"`
	Undecided int     `json:"undecided" yaml:"undecided"`
	Alerts    []Alert `json:"alerts" yaml:"alerts"`
	Sent      int     `json:"sent" yaml:"sent"`
	Failed    int     `json:"failed" yaml:"failed"`
	DryRun    bool    `json:"dry_run" yaml:"dry_run"`
}

// Job classifies every region and emails the subscribers of regions that
// alert. Failures for one region or recipient are logged and skipped.
type Job struct {
	store      store.Store
	mailer     Mailer
	classifier *trend.Classifier
	opts       Options
	metrics    *observability.Metrics
}

// NewJob creates a Job.
func NewJob(st store.Store, mailer Mailer, classifier *trend.Classifier, opts Options, m *observability.Metrics) *Job {
	if opts.From == "" {
		opts.From = DefaultFrom
	}
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if classifier == nil {
		classifier = trend.NewClassifier(nil, 0)
	}
	return &Job{store: st, mailer: mailer, classifier: classifier, opts: opts, metrics: m}
}

// Run evaluates every region once. Only failing to list regions is an error.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	log := zap.L().With(zap.String("component", "notify"), zap.Bool("dry_run", j.opts.DryRun))

	regions, err := j.store.ListRegions(ctx)
	if err != nil {
		return Summary{}, eris.Wrap(err, "notify: list regions")
	}

	summary := Summary{Regions: len(regions), DryRun: j.opts.DryRun, Alerts: []Alert{}}
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "notify: run cancelled")
		}
		j.runRegion(ctx, log.With(zap.String("region", region)), region, &summary)
	}

	log.Info("notify run complete",
		zap.Int("regions", summary.Regions),
		zap.Int("alerts", len(summary.Alerts)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (j *Job) runRegion(ctx context.Context, log *zap.Logger, region string, summary *Summary) {
	history, err := j.store.RegionHistory(ctx, region)
	if err != nil {
		log.Error("load history", zap.Error(err))
		return
	}

	var fc *model.Forecast
	if j.opts.UseForecasts {
		fc, err = j.store.GetForecast(ctx, region)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn("load forecast", zap.Error(err))
		}
	}

	d := j.classifier.Classify(region, history, fc)
	if !d.Decided {
		log.Info("no decision", zap.String("reason", d.Reason))
		summary.Undecided++
		return
	}
	if !d.Alert() {
		return
	}
	j.metrics.AlertRaised(d.Tier.String())

	body, err := RenderBody(d)
	if err != nil {
		log.Error("render email", zap.Error(err))
		return
	}

	subs, err := j.store.ListSubscribers(ctx, region)
	if err != nil {
		log.Error("load subscribers", zap.Error(err))
		return
	}
	summary.Alerts = append(summary.Alerts, Alert{Region: region, Tier: d.Tier.String(), Recipients: len(subs)})
	log.Info("alert raised", zap.String("tier", d.Tier.String()), zap.Int("subscribers", len(subs)))

	for _, sub := range subs {
		if j.opts.DryRun {
			j.metrics.EmailOutcome(OutcomeSkipped)
			continue
		}
		msg := Message{From: j.opts.From, To: []string{sub.Email}, Subject: j.opts.Subject, Body: body}
		if err := j.mailer.Send(ctx, msg); err != nil {
			log.Error("send email", zap.String("email", sub.Email), zap.Error(err))
			j.metrics.EmailOutcome(OutcomeFailed)
			summary.Failed++
			continue
		}
		j.metrics.EmailOutcome(OutcomeSent)
		summary.Sent++
	}
}

var bodyTemplate = template.Must(template.New("body").Funcs(template.FuncMap{
	"score": formatScore,
}).Parse(`Hello.
We are emailing you in regard to COVID risk in {{.Region}}.

The current week's CDC WVal Category is {{.Latest.Category}}.
The CDC WVal Category for last week was {{.Previous.Category}}.

The current week's CDC WVal is {{score .Latest.StateWVAL}}.
The CDC WVal for last week is {{score .Previous.StateWVAL}}.

Current Week - {{.Latest.EndingDateString}}
Last Week - {{.Previous.EndingDateString}}
{{if eq .Tier.String "forecast_risk"}}
Our forecast for the coming weeks shows a significant change from the current level.
{{end}}
Based on these values, we recommend taking extra caution in avoiding COVID.
Wearing a mask outdoors, social distancing, and making sure you're vaccinated are
all recommended steps you can take.

Please visit the following World Health Organization site to learn more:
https://www.who.int/emergencies/diseases/novel-coronavirus-2019/advice-for-public

Thank you for staying informed.
`))

// RenderBody renders the alert email for a decision.
func RenderBody(d trend.Decision) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, d); err != nil {
		return "", eris.Wrap(err, "notify: render body")
	}
	return buf.String(), nil
}

func formatScore(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
