package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmespath-community/go-jmespath"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// jmespathEvaluator is the default JMESPathEvaluator, backed by
// jmespath-community/go-jmespath.
type jmespathEvaluator struct{}

func (jmespathEvaluator) Validate(expr string) error {
	_, err := jmespath.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile jmespath expression: %w", err)
	}
	return nil
}

func (jmespathEvaluator) Evaluate(expr string, data any) (any, error) {
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile jmespath expression: %w", err)
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("search jmespath expression: %w", err)
	}
	return result, nil
}

// JMESPathEvaluator validates and runs a JMESPath expression against a JSON
// document. AlertSinkService uses it to let operators pick the slice of an
// alert payload their sink's body should carry.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// PreparedHTTPRequest is everything needed to actually fire an HTTP request
// at a configured sink: secrets already substituted, body already rendered.
type PreparedHTTPRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	OkStatus int
	Secrets  map[string]string // placeholder -> resolved value, kept for redaction on the way back out
}

// AlertPayload is the envelope an alert's raw JSON is wrapped in before being
// handed to a sink's JMESPath body expression or test-fire sample.
type AlertPayload struct {
	Alert    json.RawMessage `json:"alert"`
	SiteName string          `json:"site_name,omitempty"`
	AlertURL string          `json:"alert_url,omitempty"`
}

// AlertSinkServiceOptions groups AlertSinkService's dependencies.
type AlertSinkServiceOptions struct {
	JobRepo    core.JobRepository
	SecretRepo core.SecretRepository
	Evaluator  JMESPathEvaluator
}

// AlertSinkService turns a stored HTTPAlertSink configuration plus an event
// payload into a request ready to send, and can enqueue that delivery as a
// job or fire it synchronously for configuration testing.
type AlertSinkService struct {
	jobs  core.JobRepository
	certs core.SecretRepository
	eval  JMESPathEvaluator
}

// NewAlertSinkService constructs an AlertSinkService. A nil Evaluator falls
// back to the jmespath-community implementation.
func NewAlertSinkService(opts AlertSinkServiceOptions) *AlertSinkService {
	eval := opts.Evaluator
	if eval == nil {
		eval = jmespathEvaluator{}
	}
	return &AlertSinkService{jobs: opts.JobRepo, certs: opts.SecretRepo, eval: eval}
}

// ResolveSecrets substitutes every __NAME__ placeholder referenced by
// sink.Secrets across the sink's Body, QueryParams, and Headers fields and
// returns the resolved copy plus a map of placeholder -> value (used later
// for redacting the same values back out of logged request summaries).
func (s *AlertSinkService) ResolveSecrets(ctx context.Context, sink model.HTTPAlertSink) (model.HTTPAlertSink, map[string]string, error) {
	placeholders := make(map[string]string, len(sink.Secrets))
	for _, name := range sink.Secrets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		secret, err := s.certs.GetByName(ctx, name)
		if err != nil {
			return sink, nil, fmt.Errorf("resolve secret %q: %w", name, err)
		}
		placeholders["__"+name+"__"] = secret.Value
	}

	resolved := sink
	resolved.URI = substituteStr(sink.URI, placeholders)
	resolved.Body = substitutePtr(sink.Body, placeholders)
	resolved.QueryParams = substitutePtr(sink.QueryParams, placeholders)
	resolved.Headers = substitutePtr(sink.Headers, placeholders)
	return resolved, placeholders, nil
}

func substituteStr(field string, placeholders map[string]string) string {
	out := field
	for placeholder, value := range placeholders {
		out = strings.ReplaceAll(out, placeholder, value)
	}
	return out
}

func substitutePtr(field *string, placeholders map[string]string) *string {
	if field == nil {
		return nil
	}
	out := substituteStr(*field, placeholders)
	return &out
}

// ValidateSinkConfiguration checks that a sink's JMESPath body expression
// parses and that every referenced secret currently exists, without
// performing any network call.
func (s *AlertSinkService) ValidateSinkConfiguration(ctx context.Context, sink model.HTTPAlertSink) error {
	if sink.Body != nil {
		if err := s.eval.Validate(*sink.Body); err != nil {
			return fmt.Errorf("invalid body expression: %w", err)
		}
	}
	if _, _, err := s.ResolveSecrets(ctx, sink); err != nil {
		return fmt.Errorf("validate secrets: %w", err)
	}
	return nil
}

// ProcessSinkConfiguration resolves a sink's secrets, renders its body
// expression (if any) against payload, and assembles a PreparedHTTPRequest
// ready to send.
func (s *AlertSinkService) ProcessSinkConfiguration(ctx context.Context, sink model.HTTPAlertSink, payload json.RawMessage) (*PreparedHTTPRequest, error) {
	resolved, placeholders, err := s.ResolveSecrets(ctx, sink)
	if err != nil {
		return nil, err
	}

	headers, err := parseSinkHeaders(resolved.Headers)
	if err != nil {
		return nil, err
	}

	body, err := s.renderBody(resolved.Body, payload)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	okStatus := resolved.OkStatus
	if okStatus == 0 {
		okStatus = http.StatusOK
	}

	reqURL, err := withQueryString(resolved.URI, resolved.QueryParams)
	if err != nil {
		return nil, err
	}

	return &PreparedHTTPRequest{
		Method:   strings.ToUpper(resolved.Method),
		URL:      reqURL,
		Headers:  headers,
		Body:     body,
		OkStatus: okStatus,
		Secrets:  placeholders,
	}, nil
}

func (s *AlertSinkService) renderBody(expr *string, payload json.RawMessage) ([]byte, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return nil, nil
	}

	var data any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode payload for body expression: %w", err)
		}
	}

	result, err := s.eval.Evaluate(*expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate body expression: %w", err)
	}
	rendered, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal body expression result: %w", err)
	}
	return rendered, nil
}

func withQueryString(rawURL string, params *string) (string, error) {
	if params == nil || strings.TrimSpace(*params) == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse sink uri: %w", err)
	}
	extra, err := url.ParseQuery(*params)
	if err != nil {
		return "", fmt.Errorf("parse sink query params: %w", err)
	}
	existing := u.Query()
	for k, vals := range extra {
		for _, v := range vals {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// parseSinkHeaders accepts either a JSON object (string or []string values)
// or the legacy newline-delimited "Key: Value" format.
func parseSinkHeaders(raw *string) (map[string]string, error) {
	headers := map[string]string{}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return headers, nil
	}
	trimmed := strings.TrimSpace(*raw)

	if strings.HasPrefix(trimmed, "{") {
		var generic map[string]any
		if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
			return nil, fmt.Errorf("invalid headers JSON: %w", err)
		}
		for k, v := range generic {
			headers[k] = headerFieldString(v)
		}
		return headers, nil
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

func headerFieldString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ScheduleAlert enqueues an alert job carrying sink.ID and payload; the
// job runner picks it up and performs the actual HTTP delivery.
func (s *AlertSinkService) ScheduleAlert(ctx context.Context, sink *model.HTTPAlertSink, payload json.RawMessage) (*model.Job, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	body, err := json.Marshal(struct {
		SinkID  string          `json:"sink_id"`
		Payload json.RawMessage `json:"payload"`
	}{SinkID: sink.ID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal alert job payload: %w", err)
	}

	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeAlert,
		Payload:    body,
		MaxRetries: sink.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule alert job: %w", err)
	}
	return job, nil
}

// HTTPDoer is the subset of *http.Client TestFire needs, so tests can swap
// in a stub transport without spinning up a real listener.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxTestFireBodyBytes = 4 * 1024

// TestFireResult reports the outcome of a synchronous sink-configuration test.
type TestFireResult struct {
	Success      bool                         `json:"success"`
	StatusCode   int                          `json:"status_code,omitempty"`
	ExpectedCode int                          `json:"expected_code"`
	ErrorMessage string                       `json:"error_message,omitempty"`
	Request      AlertDeliveryRequestSummary  `json:"request"`
	Response     *AlertDeliveryResponse       `json:"response,omitempty"`
}

// TestFire prepares a synthetic sample alert payload, fires it at sink via
// client, and reports what happened with secrets redacted back out of the
// captured request/response. It returns an error only for configuration
// problems (nil sink/client); delivery failures are reported through the
// result's Success/ErrorMessage fields instead, since the caller is usually
// presenting this directly to a user validating a sink they're editing.
func (s *AlertSinkService) TestFire(ctx context.Context, sink *model.HTTPAlertSink, client HTTPDoer) (*TestFireResult, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}

	payload := sampleAlertPayload()
	preq, err := s.ProcessSinkConfiguration(ctx, *sink, payload)
	if err != nil {
		return nil, fmt.Errorf("prepare test request: %w", err)
	}

	redactor := NewSecretRedactor(preq.Secrets)
	result := &TestFireResult{ExpectedCode: preq.OkStatus}
	result.Request.Method = preq.Method
	result.Request.URL = redactor.RedactString(preq.URL)
	result.Request.Headers = redactor.RedactHeaders(preq.Headers)
	if len(preq.Body) > 0 {
		result.Request.Body = redactor.RedactString(string(preq.Body))
	}
	result.Request.OkStatus = preq.OkStatus

	resp, sendErr := sendTestFireRequest(ctx, client, preq)
	if sendErr != nil {
		result.ErrorMessage = sendErr.Error()
		return result, nil
	}
	result.StatusCode = resp.StatusCode
	result.Response = resp
	if resp.StatusCode != preq.OkStatus {
		result.ErrorMessage = fmt.Sprintf("unexpected status %d, expected %d", resp.StatusCode, preq.OkStatus)
		return result, nil
	}
	result.Success = true
	return result, nil
}

func sendTestFireRequest(ctx context.Context, client HTTPDoer, preq *PreparedHTTPRequest) (*AlertDeliveryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, preq.Method, preq.URL, strings.NewReader(string(preq.Body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range preq.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, truncated, err := readLimitedBody(resp.Body, maxTestFireBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &AlertDeliveryResponse{
		StatusCode:    resp.StatusCode,
		Headers:       flattenHeaders(resp.Header),
		Body:          string(body),
		BodyTruncated: truncated,
	}, nil
}

func readLimitedBody(r io.Reader, limit int64) ([]byte, bool, error) {
	limited := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// sampleAlertPayload builds a representative alert payload for TestFire so a
// sink's body expression exercises the same shape a real alert would send.
func sampleAlertPayload() json.RawMessage {
	now := time.Now().UTC().Format(time.RFC3339)
	alert := map[string]any{
		"id":         uuid.NewString(),
		"type":       "unknown_domain",
		"site_id":    uuid.NewString(),
		"created_at": now,
		"details": map[string]any{
			"domain":  "example-test-domain.test",
			"scope":   "global",
			"summary": "Sample alert generated for sink test-fire",
		},
	}
	envelope := AlertPayload{
		Alert:    mustMarshal(alert),
		SiteName: "Sample Site",
		AlertURL: "https://example.invalid/alerts/" + alert["id"].(string),
	}
	return mustMarshal(envelope)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(strconv.Quote(fmt.Sprintf("marshal error: %v", err)))
	}
	return b
}
