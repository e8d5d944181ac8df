package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// AlertCreator creates alerts. Kept as a narrow local interface (rather than
// depending on the full alert service) so this package stays decoupled from
// alert delivery concerns.
type AlertCreator interface {
	Create(ctx context.Context, req *model.CreateAlertRequest) (*model.Alert, error)
}

// AllowlistChecker optionally exempts a domain from unknown-domain alerting
// for a given scope.
type AllowlistChecker interface {
	Allowed(ctx context.Context, scope ScopeKey, domain string) bool
}

// UnknownDomainEvaluator flags domains a site has never contacted before.
// A domain is "unknown" the first time it's observed for a scope; after that
// it's recorded as seen and subsequent sightings are silent.
type UnknownDomainEvaluator struct {
	Caches    Caches
	Alerter   AlertCreator
	Allowlist AllowlistChecker // optional
	AlertTTL  time.Duration    // optional extra dedupe window via AlertOnce; zero disables it
	Logger    *slog.Logger     // optional
}

// UnknownDomainDecision is the terminal outcome of one evaluation.
type UnknownDomainDecision string

const (
	UnknownDomainDecisionAlertCreated        UnknownDomainDecision = "alert_created"
	UnknownDomainDecisionAllowlisted         UnknownDomainDecision = "allowlisted"
	UnknownDomainDecisionAlreadySeen         UnknownDomainDecision = "already_seen"
	UnknownDomainDecisionDeduped             UnknownDomainDecision = "deduped"
	UnknownDomainDecisionNormalizationFailed UnknownDomainDecision = "normalization_failed"
	UnknownDomainDecisionError               UnknownDomainDecision = "error"
)

// UnknownDomainDecisionRecorder observes evaluation outcomes, e.g. for metrics.
type UnknownDomainDecisionRecorder interface {
	RecordUnknownDomainDecision(decision UnknownDomainDecision, domain string)
}

// UnknownDomainRequest describes one domain sighting to evaluate.
type UnknownDomainRequest struct {
	Scope      ScopeKey
	Domain     string // raw as observed; normalized internally
	SiteID     string
	JobID      string
	RequestURL string
	PageURL    string
	Referrer   string
	UserAgent  string
	EventID    string

	Recorder UnknownDomainDecisionRecorder
}

// unknownDomainEval carries the state shared across one evaluation pass
// (live or preview) so the step methods below don't each need their own
// bespoke parameter struct.
type unknownDomainEval struct {
	e       *UnknownDomainEvaluator
	req     UnknownDomainRequest
	domain  string
	preview bool
}

// Evaluate checks a domain sighting and creates an alert if it is unknown.
// It returns true if an alert was created.
func (e *UnknownDomainEvaluator) Evaluate(ctx context.Context, req UnknownDomainRequest) (bool, error) {
	return e.run(ctx, req, false)
}

// Preview evaluates a domain sighting the same way Evaluate does, but never
// creates an alert or consumes the AlertOnce dedupe window. When the domain
// would have triggered an alert, it is still recorded as seen so later live
// evaluation sees the same baseline a non-preview run would have built.
func (e *UnknownDomainEvaluator) Preview(ctx context.Context, req UnknownDomainRequest) (bool, error) {
	return e.run(ctx, req, true)
}

func (e *UnknownDomainEvaluator) run(ctx context.Context, req UnknownDomainRequest, preview bool) (bool, error) {
	if err := req.Scope.Validate(); err != nil {
		return false, err
	}

	ev := &unknownDomainEval{e: e, req: req, preview: preview}
	ev.domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if ev.domain == "" {
		ev.conclude(ctx, UnknownDomainDecisionNormalizationFailed, "domain normalization failed")
		return false, nil
	}

	if ev.isAllowlisted(ctx) {
		return ev.handleAllowlisted(ctx)
	}

	seen, err := ev.alreadySeen(ctx)
	if err != nil {
		return false, ev.fail(ctx, "domain_exists_check_error", fmt.Errorf("check seen domain %q: %w", ev.domain, err))
	}
	if seen {
		ev.conclude(ctx, UnknownDomainDecisionAlreadySeen, "alert suppressed: domain already seen")
		return false, nil
	}

	dup, err := ev.deduped(ctx)
	if err != nil {
		return false, ev.fail(ctx, "domain_dedupe_check_error", fmt.Errorf("dedupe check domain %q: %w", ev.domain, err))
	}
	if dup {
		ev.conclude(ctx, UnknownDomainDecisionDeduped, "")
		return false, nil
	}

	return ev.createAlert(ctx)
}

func (ev *unknownDomainEval) isAllowlisted(ctx context.Context) bool {
	if ev.e.Allowlist == nil {
		return false
	}
	return ev.e.Allowlist.Allowed(ctx, ev.req.Scope, ev.domain)
}

func (ev *unknownDomainEval) handleAllowlisted(ctx context.Context) (bool, error) {
	ev.conclude(ctx, UnknownDomainDecisionAllowlisted, "alert suppressed: domain allowlisted")
	if err := ev.markSeen(ctx); err != nil {
		ev.warn("failed to record allowlisted domain as seen", "error", err)
		if !ev.preview {
			return false, nil
		}
		return false, fmt.Errorf("record allowlisted domain %q: %w", ev.domain, err)
	}
	return false, nil
}

func (ev *unknownDomainEval) alreadySeen(ctx context.Context) (bool, error) {
	return ev.e.Caches.Seen.Exists(ctx, SeenKey{Scope: ev.req.Scope, Domain: ev.domain})
}

// deduped consults the AlertOnce window: Preview only peeks at it (so the
// window isn't consumed by dry-run traffic), Evaluate marks it seen.
func (ev *unknownDomainEval) deduped(ctx context.Context) (bool, error) {
	if ev.e.AlertTTL <= 0 || ev.e.Caches.AlertOnce == nil {
		return false, nil
	}
	dedupeReq := AlertSeenRequest{
		Scope:     ev.req.Scope,
		DedupeKey: "unknown:" + ev.domain,
		TTL:       ev.e.AlertTTL,
	}
	if ev.preview {
		return ev.e.Caches.AlertOnce.Peek(ctx, dedupeReq)
	}
	return ev.e.Caches.AlertOnce.Seen(ctx, dedupeReq)
}

func (ev *unknownDomainEval) markSeen(ctx context.Context) error {
	return ev.e.Caches.Seen.Record(ctx, SeenKey{Scope: ev.req.Scope, Domain: ev.domain})
}

func (ev *unknownDomainEval) createAlert(ctx context.Context) (bool, error) {
	if ev.preview {
		if err := ev.markSeen(ctx); err != nil {
			return false, fmt.Errorf("record domain %q: %w", ev.domain, err)
		}
		ev.conclude(ctx, UnknownDomainDecisionAlertCreated, "")
		return true, nil
	}

	if ev.e.Alerter == nil {
		ev.conclude(ctx, "no_alerter_configured", "alert not created: no alerter configured")
		return false, nil
	}
	if err := ev.submitAlert(ctx); err != nil {
		return false, ev.fail(ctx, "alert_creation_failed", fmt.Errorf("create alert for domain %q: %w", ev.domain, err))
	}
	if err := ev.markSeen(ctx); err != nil {
		return false, ev.fail(ctx, "domain_record_failed", fmt.Errorf("record domain %q: %w", ev.domain, err))
	}
	ev.conclude(ctx, UnknownDomainDecisionAlertCreated, "alert created")
	return true, nil
}

func (ev *unknownDomainEval) submitAlert(ctx context.Context) error {
	req := ev.req
	eventCtx := map[string]any{
		"domain":  ev.domain,
		"scope":   req.Scope.Scope,
		"site_id": req.Scope.SiteID,
	}
	for k, v := range map[string]string{
		"job_id":      req.JobID,
		"event_id":    req.EventID,
		"request_url": req.RequestURL,
		"page_url":    req.PageURL,
		"referrer":    req.Referrer,
		"user_agent":  req.UserAgent,
	} {
		if v != "" {
			eventCtx[k] = v
		}
	}

	ctxJSON, err := json.Marshal(eventCtx)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}

	_, err = ev.e.Alerter.Create(ctx, &model.CreateAlertRequest{
		SiteID:      req.Scope.SiteID,
		RuleType:    string(model.AlertRuleTypeUnknownDomain),
		Severity:    string(model.AlertSeverityMedium),
		Title:       "Unknown domain observed",
		Description: fmt.Sprintf("First time seen domain: %s (scope: %s)", ev.domain, req.Scope.Scope),

		EventContext: ctxJSON,
	})
	return err
}

// conclude records the decision (unless this is a normalization failure,
// which the caller already recorded against the untrimmed raw domain) and,
// for live evaluation, emits a matching debug/info log line.
func (ev *unknownDomainEval) conclude(ctx context.Context, decision UnknownDomainDecision, logMsg string) {
	domain := ev.domain
	if decision == UnknownDomainDecisionNormalizationFailed {
		domain = strings.TrimSpace(ev.req.Domain)
	}
	ev.req.record(decision, domain)

	if ev.preview || logMsg == "" {
		return
	}
	ev.e.logReason(ctx, string(decision), ev.req, ev.domain)
	ev.info(logMsg)
}

func (ev *unknownDomainEval) fail(ctx context.Context, reason string, err error) error {
	ev.req.record(UnknownDomainDecisionError, ev.domain)
	if !ev.preview {
		ev.e.logReason(ctx, reason, ev.req, ev.domain)
		ev.error("unknown domain evaluation failed", "reason", reason, "error", err)
	}
	return err
}

func (ev *unknownDomainEval) info(msg string, args ...any) { ev.e.logAt(slog.LevelInfo, msg, ev.logArgs(args)) }
func (ev *unknownDomainEval) warn(msg string, args ...any) { ev.e.logAt(slog.LevelWarn, msg, ev.logArgs(args)) }
func (ev *unknownDomainEval) error(msg string, args ...any) {
	ev.e.logAt(slog.LevelError, msg, ev.logArgs(args))
}

func (ev *unknownDomainEval) logArgs(extra []any) []any {
	return append([]any{"domain", ev.domain, "site_id", ev.req.SiteID, "scope", ev.req.Scope.Scope}, extra...)
}

func (e *UnknownDomainEvaluator) logReason(ctx context.Context, reason string, req UnknownDomainRequest, domain string) {
	if e.Logger == nil {
		return
	}
	e.Logger.DebugContext(ctx, "unknown domain evaluation decision",
		"reason", reason, "domain", domain, "site_id", req.SiteID, "scope", req.Scope)
}

func (e *UnknownDomainEvaluator) logAt(level slog.Level, msg string, args []any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Log(context.Background(), level, msg, args...)
}

func (req UnknownDomainRequest) record(decision UnknownDomainDecision, domain string) {
	if req.Recorder == nil {
		return
	}
	req.Recorder.RecordUnknownDomainDecision(decision, domain)
}
