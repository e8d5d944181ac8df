package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// AlertSinkScheduler enqueues delivery of an alert payload to a sink,
// returning the job that will carry it out.
type AlertSinkScheduler interface {
	ScheduleAlert(ctx context.Context, sink *model.HTTPAlertSink, eventPayload json.RawMessage) (*model.Job, error)
}

// AlertDispatchServiceOptions configures an AlertDispatchService.
type AlertDispatchServiceOptions struct {
	Sinks     core.HTTPAlertSinkRepository
	Sites     core.SiteRepository
	AlertSink AlertSinkScheduler
	BaseURL   string
	Logger    *slog.Logger
}

// AlertDispatchService fans a raised Alert out to whatever HTTP sink its
// site is configured with.
type AlertDispatchService struct {
	sinks     core.HTTPAlertSinkRepository
	sites     core.SiteRepository
	scheduler AlertSinkScheduler
	baseURL   string
	logger    *slog.Logger
}

const defaultDispatchBaseURL = "http://localhost:8080"

// NewAlertDispatchService builds an AlertDispatchService. An empty BaseURL
// falls back to defaultDispatchBaseURL so buildAlertURL never has to guard
// against one being unset.
func NewAlertDispatchService(opts AlertDispatchServiceOptions) *AlertDispatchService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultDispatchBaseURL
	}

	return &AlertDispatchService{
		sinks:     opts.Sinks,
		sites:     opts.Sites,
		scheduler: opts.AlertSink,
		baseURL:   baseURL,
		logger:    logger,
	}
}

var (
	errSiteRepoNotConfigured           = errors.New("alert dispatch: site repository not configured")
	errAlertSinkSchedulerNotConfigured = errors.New("alert dispatch: alert sink scheduler not configured")
	errSinkDangling                    = errors.New("alert dispatch: site references a sink that no longer exists")
)

// Dispatch resolves the HTTP alert sink configured for alert's site and
// schedules delivery. A site with no sink configured, or whose alert mode is
// muted, is treated as a deliberate no-op rather than an error.
func (s *AlertDispatchService) Dispatch(ctx context.Context, alert *model.Alert) error {
	if s.scheduler == nil {
		return errAlertSinkSchedulerNotConfigured
	}

	target, skip, err := s.route(ctx, alert)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	payload, err := s.envelope(alert, target.site)
	if err != nil {
		return err
	}

	job, err := s.scheduler.ScheduleAlert(ctx, target.sink, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to schedule alert job",
			"alert_id", alert.ID, "sink_id", target.sink.ID, "sink_name", target.sink.Name, "error", err)
		return fmt.Errorf("alert dispatch: all sink schedules failed: %w", err)
	}

	s.logger.InfoContext(ctx, "scheduled alert job",
		"alert_id", alert.ID, "sink_id", target.sink.ID, "sink_name", target.sink.Name, "job_id", job.ID)
	return nil
}

// dispatchTarget is the resolved site + sink pair Dispatch delivers to.
type dispatchTarget struct {
	site *model.Site
	sink *model.HTTPAlertSink
}

// route resolves alert's site and its configured sink. skip=true means
// dispatch should silently no-op (no sink configured, or alerts muted) -
// these are everyday configuration states, not errors worth surfacing.
func (s *AlertDispatchService) route(ctx context.Context, alert *model.Alert) (dispatchTarget, bool, error) {
	site, err := s.loadSite(ctx, alert.SiteID)
	if err != nil {
		return dispatchTarget{}, false, err
	}

	if site.AlertMode == model.SiteAlertModeMuted {
		s.logger.InfoContext(ctx, "site alert mode muted; skipping alert dispatch",
			"alert_id", alert.ID, "site_id", alert.SiteID)
		return dispatchTarget{}, true, nil
	}

	if site.HTTPAlertSinkID == nil || strings.TrimSpace(*site.HTTPAlertSinkID) == "" {
		s.logger.DebugContext(ctx, "no HTTP alert sink configured for site, skipping dispatch",
			"alert_id", alert.ID, "site_id", alert.SiteID)
		return dispatchTarget{}, true, nil
	}

	sink, err := s.sinks.GetByID(ctx, strings.TrimSpace(*site.HTTPAlertSinkID))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load HTTP alert sink",
			"sink_id", *site.HTTPAlertSinkID, "site_id", alert.SiteID, "error", err)
		return dispatchTarget{}, false, fmt.Errorf("alert dispatch: get sink: %w", err)
	}
	if sink == nil {
		s.logger.WarnContext(ctx, "site references missing HTTP alert sink",
			"alert_id", alert.ID, "site_id", alert.SiteID, "error", errSinkDangling)
		return dispatchTarget{}, true, nil
	}

	return dispatchTarget{site: site, sink: sink}, false, nil
}

func (s *AlertDispatchService) loadSite(ctx context.Context, siteID string) (*model.Site, error) {
	if s.sites == nil {
		return nil, errSiteRepoNotConfigured
	}
	site, err := s.sites.GetByID(ctx, siteID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load site for alert dispatch", "site_id", siteID, "error", err)
		return nil, fmt.Errorf("alert dispatch: get site: %w", err)
	}
	return site, nil
}

// envelope wraps alert's JSON with the site name and a deep link to view it.
func (s *AlertDispatchService) envelope(alert *model.Alert, site *model.Site) (json.RawMessage, error) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		s.logger.ErrorContext(context.Background(), "failed to marshal alert data", "alert_id", alert.ID, "error", err)
		return nil, fmt.Errorf("alert dispatch: marshal alert: %w", err)
	}

	siteName := ""
	if site != nil {
		siteName = site.Name
	}

	payload, err := json.Marshal(AlertPayload{
		Alert:    alertJSON,
		SiteName: siteName,
		AlertURL: fmt.Sprintf("%s/alerts/%s", s.baseURL, alert.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("alert dispatch: marshal enriched payload: %w", err)
	}
	return payload, nil
}
