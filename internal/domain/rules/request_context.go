package rules

import (
	"encoding/json"
	"strings"

	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// requestCtx is the attribution pulled off a Network.* event: the request
// URL itself plus whatever page/referrer/user-agent context Puppeteer
// attached to it.
type requestCtx struct {
	requestURL string
	pageURL    string
	referrer   string
	userAgent  string
}

// deriveRequestContext builds a requestCtx from an event's network payload
// and attribution metadata. Any piece it can't find is left blank rather
// than erroring, since request context is best-effort enrichment, not a
// correctness requirement for rule evaluation.
func deriveRequestContext(evt *model.Event) requestCtx {
	var ctx requestCtx
	if evt == nil {
		return ctx
	}

	ctx.requestURL = networkRequestURL(evt.EventType, evt.EventData)
	ctx.referrer = requestReferrer(evt.EventData)
	if attr := puppeteerAttribution(evt.Metadata); attr != nil {
		ctx.pageURL = strings.TrimSpace(attr.URL)
		ctx.userAgent = strings.TrimSpace(attr.UserAgent)
	}
	return ctx
}

// networkURLShape is the subset of a CDP Network.* event body that carries a
// URL, which can show up under request.url, a bare url, or response.url
// depending on the event's subtype.
type networkURLShape struct {
	Request struct {
		URL     string         `json:"url"`
		Headers map[string]any `json:"headers"`
	} `json:"request"`
	URL      string `json:"url"`
	Response struct {
		URL string `json:"url"`
	} `json:"response"`
}

func networkRequestURL(eventType string, data json.RawMessage) string {
	if !strings.HasPrefix(eventType, "Network.") || len(data) == 0 {
		return ""
	}

	var shape networkURLShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return ""
	}

	for _, candidate := range []string{shape.Request.URL, shape.URL, shape.Response.URL} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func requestReferrer(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var shape struct {
		Request struct {
			Headers map[string]any `json:"headers"`
		} `json:"request"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return ""
	}

	// Standard spelling first, then the common "Referrer" header typo producers use.
	if ref := headerValue(shape.Request.Headers, "referer"); ref != "" {
		return ref
	}
	return headerValue(shape.Request.Headers, "referrer")
}

func headerValue(headers map[string]any, name string) string {
	want := strings.ToLower(name)
	for k, v := range headers {
		if strings.ToLower(k) != want {
			continue
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func puppeteerAttribution(meta json.RawMessage) *model.PuppeteerAttribution {
	if len(meta) == 0 {
		return nil
	}
	var parsed struct {
		Attribution *model.PuppeteerAttribution `json:"attribution"`
	}
	if err := json.Unmarshal(meta, &parsed); err != nil {
		return nil
	}
	return parsed.Attribution
}
