package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
)

// Message kinds.
const (
	KindSummary = "summary"
	KindAlert   = "alert"
)

// Message is one outbound notification before it is encoded for a target.
type Message struct {
	Team  string
	Kind  string
	Title string

	// Severity is set for alerts and drives the Teams card color.
	Severity metrics.Severity

	// Blocks is the Slack rendering; Teams derives its markdown from it.
	Blocks []Block

	// Payload is the JSON body for generic http targets.
	Payload any
}

// Target is one resolved webhook destination.
type Target struct {
	Type string
	URL  string
}

// StatusError is a webhook response outside 2xx/3xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.Code)
}

// Permanent reports whether retrying cannot help. 429 is transient.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// permanentError marks a delivery that can never succeed, such as a message
// that cannot be encoded for its target.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// encode renders m in the wire format of t.Type.
func encode(t Target, m Message) ([]byte, error) {
	switch t.Type {
	case "slack":
		return json.Marshal(map[string]any{
			"text":   m.Title,
			"blocks": m.Blocks,
		})
	case "teams":
		return json.Marshal(map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(m.Severity),
			"summary":    m.Title,
			"title":      "SprintPulse: " + m.Title,
			"text":       blocksToMarkdown(m.Blocks),
		})
	case "http":
		return json.Marshal(map[string]any{
			"kind": m.Kind,
			"team": m.Team,
			"data": m.Payload,
		})
	default:
		return nil, fmt.Errorf("unknown webhook type %q", t.Type)
	}
}

// post sends body to url. Non-2xx/3xx responses become *StatusError.
func post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func severityColor(s metrics.Severity) string {
	switch s {
	case metrics.SeverityCritical:
		return "FF4F6A"
	case metrics.SeverityHigh:
		return "FF8C42"
	case metrics.SeverityMedium:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

var slackLink = regexp.MustCompile(`<([^|>]+)\|([^>]+)>`)

// blocksToMarkdown flattens Slack blocks into the markdown subset MessageCard
// accepts. Slack links <url|text> become [text](url).
func blocksToMarkdown(blocks []Block) string {
	var parts []string
	for _, b := range blocks {
		switch {
		case b.Type == "header" && b.Text != nil:
			parts = append(parts, "**"+b.Text.Text+"**")
		case b.Text != nil:
			parts = append(parts, b.Text.Text)
		case len(b.Fields) > 0:
			lines := make([]string, len(b.Fields))
			for i, f := range b.Fields {
				lines[i] = f.Text
			}
			parts = append(parts, strings.Join(lines, "\n\n"))
		case b.Type == "actions":
			for _, e := range b.Elements {
				if e.URL != "" {
					parts = append(parts, fmt.Sprintf("[%s](%s)", e.Text.Text, e.URL))
				}
			}
		}
	}
	return slackLink.ReplaceAllString(strings.Join(parts, "\n\n"), "[$2]($1)")
}
