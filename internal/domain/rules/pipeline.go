package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// DomainExtractor pulls a normalized domain out of a raw event payload.
type DomainExtractor interface {
	ExtractDomain(event model.RawEvent) (string, bool)
}

// DomainExtractorFunc lets a plain function satisfy DomainExtractor.
type DomainExtractorFunc func(event model.RawEvent) (string, bool)

// ExtractDomain invokes the wrapped function, treating nil as "no domain".
func (f DomainExtractorFunc) ExtractDomain(event model.RawEvent) (string, bool) {
	if f == nil {
		return "", false
	}
	return f(event)
}

// RuleEngine fans a work item out to a set of rules and returns their
// individual evaluations.
type RuleEngine interface {
	Evaluate(ctx context.Context, item RuleWorkItem) []RuleEvaluation
}

// RuleEngineFunc lets a plain function satisfy RuleEngine.
type RuleEngineFunc func(ctx context.Context, item RuleWorkItem) []RuleEvaluation

// Evaluate invokes the wrapped function, treating nil as "no evaluations".
func (f RuleEngineFunc) Evaluate(ctx context.Context, item RuleWorkItem) []RuleEvaluation {
	if f == nil {
		return nil
	}
	return f(ctx, item)
}

// RuleWorkItem is everything a Rule needs to judge a single event.
type RuleWorkItem struct {
	Event      *model.Event
	SiteID     string
	Scope      string
	Domain     string
	DryRun     bool
	AlertMode  model.SiteAlertMode
	JobID      string
	EventID    string
	RequestURL string
	PageURL    string
	Referrer   string
	UserAgent  string
}

// RuleEvaluation is what a Rule hands back: either a mutation to fold into
// the batch's ProcessingResults, or an error.
type RuleEvaluation struct {
	RuleID  string
	ApplyFn func(*ProcessingResults)
	Err     error
}

// Apply folds this evaluation's effect into results, if any.
func (e RuleEvaluation) Apply(results *ProcessingResults) {
	if e.ApplyFn != nil && results != nil {
		e.ApplyFn(results)
	}
}

// PipelineOptions configures a DefaultPipeline.
type PipelineOptions struct {
	Engine    RuleEngine
	Extractor DomainExtractor
	Logger    *slog.Logger
}

// DefaultPipeline walks a batch of events through domain extraction and rule
// evaluation, accumulating the outcome into ProcessingResults.
type DefaultPipeline struct {
	engine    RuleEngine
	extractor DomainExtractor
	logger    *slog.Logger
}

var _ Pipeline = (*DefaultPipeline)(nil)

// NewPipeline builds a DefaultPipeline, defaulting Logger to slog.Default().
func NewPipeline(opts PipelineOptions) *DefaultPipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultPipeline{engine: opts.Engine, extractor: opts.Extractor, logger: logger}
}

// Run evaluates every event in params.Events and returns the aggregate
// outcome. Events are processed in order; a cancelled context or missing
// rule engine stops the walk early but still returns the partial results
// accumulated so far, along with the triggering error (if any).
func (p *DefaultPipeline) Run(ctx context.Context, params PipelineParams) (*ProcessingResults, error) {
	results := &ProcessingResults{
		IsDryRun:  params.DryRun,
		AlertMode: normalizeAlertMode(params.AlertMode),
	}
	if len(params.Events) == 0 {
		return results, nil
	}

	started := time.Now()
	defer func() { results.ProcessingTime = time.Since(started) }()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if p.engine == nil {
		return results, nil
	}

	template := RuleWorkItem{DryRun: params.DryRun, AlertMode: results.AlertMode, JobID: params.JobID}
	if params.Payload != nil {
		template.SiteID = params.Payload.SiteID
		template.Scope = params.Payload.Scope
	}

	for _, event := range params.Events {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		p.evaluateOne(ctx, results, template, event)
	}

	return results, nil
}

// evaluateOne extracts an event's domain and request context, runs the rule
// engine against it, and folds the outcome into results.
func (p *DefaultPipeline) evaluateOne(
	ctx context.Context,
	results *ProcessingResults,
	template RuleWorkItem,
	event *model.Event,
) {
	if event == nil {
		results.EventsSkipped++
		return
	}

	item := template
	item.Event = event
	item.EventID = event.ID

	reqCtx := deriveRequestContext(event)
	item.RequestURL = reqCtx.requestURL
	item.PageURL = reqCtx.pageURL
	item.Referrer = reqCtx.referrer
	item.UserAgent = reqCtx.userAgent

	if p.extractor == nil {
		results.EventsSkipped++
		return
	}
	domain, ok := p.extractor.ExtractDomain(model.RawEvent{Type: event.EventType, Data: event.EventData})
	if !ok {
		results.EventsSkipped++
		return
	}
	results.DomainsProcessed++
	item.Domain = domain

	for _, eval := range p.engine.Evaluate(ctx, item) {
		if eval.Err != nil {
			p.logger.ErrorContext(ctx, "rule evaluation failed",
				"rule_id", eval.RuleID, "domain", item.Domain, "site_id", item.SiteID,
				"scope", item.Scope, "err", eval.Err)
			results.ErrorsEncountered++
			continue
		}
		eval.Apply(results)
	}
}
