package errx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"resource_exhausted",
	"quota",
	"too many requests",
}

var safetyMarkers = []string{
	"safety",
	"blocked",
	"prohibited_content",
}

// FromStatus classifies an upstream HTTP status code.
func FromStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{Err: err}
	case status == http.StatusRequestTimeout,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status >= http.StatusInternalServerError:
		return &TransientIOError{Status: status, Err: err}
	default:
		return err
	}
}

// FromOpenAI converts an Azure OpenAI client error into the taxonomy.
func FromOpenAI(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if cf := openAIContentFilter(apiErr, err); cf != nil {
			return cf
		}
		if containsAny(apiErr.Message, rateLimitMarkers) {
			return &RateLimitedError{Err: err}
		}
		return FromStatus(apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return &TransientIOError{Err: err}
		}
		return FromStatus(reqErr.HTTPStatusCode, err)
	}

	if isTransientNetwork(err) {
		return &TransientIOError{Err: err}
	}
	return err
}

func openAIContentFilter(apiErr *openai.APIError, err error) *ContentFilteredError {
	code := fmt.Sprint(apiErr.Code)
	inner := apiErr.InnerError
	if code != "content_filter" && (inner == nil || inner.Code != "ResponsibleAIPolicyViolation") {
		return nil
	}

	if inner == nil {
		return &ContentFilteredError{Message: apiErr.Message, Err: err}
	}
	cf := FromContentFilterResults(inner.ContentFilterResults, apiErr.Message)
	cf.Err = err
	return cf
}

// FromContentFilterResults builds a ContentFilteredError from Azure filter
// annotations, listing only the categories that were filtered.
func FromContentFilterResults(results openai.ContentFilterResults, message string) *ContentFilteredError {
	cf := &ContentFilteredError{Message: message}
	appendCategory := func(name string, filtered bool, severity string) {
		if filtered {
			cf.Categories = append(cf.Categories, fmt.Sprintf("%s (severity: %s)", name, severity))
		}
	}
	appendCategory("hate", results.Hate.Filtered, results.Hate.Severity)
	appendCategory("self_harm", results.SelfHarm.Filtered, results.SelfHarm.Severity)
	appendCategory("sexual", results.Sexual.Filtered, results.Sexual.Severity)
	appendCategory("violence", results.Violence.Filtered, results.Violence.Severity)
	return cf
}

// FromGenAI converts a Gemini client error into the taxonomy.
func FromGenAI(err error) error {
	if err == nil {
		return nil
	}

	apiErr, ok := asGenAIError(err)
	if !ok {
		if isTransientNetwork(err) {
			return &TransientIOError{Err: err}
		}
		if containsAny(err.Error(), rateLimitMarkers) {
			return &RateLimitedError{Err: err}
		}
		return err
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests || containsAny(apiErr.Status, rateLimitMarkers):
		return &RateLimitedError{RetryAfter: genAIRetryDelay(apiErr.Details), Err: err}
	case apiErr.Code == http.StatusBadRequest && containsAny(apiErr.Message, safetyMarkers):
		return &ContentFilteredError{Message: apiErr.Message, Err: err}
	default:
		return FromStatus(apiErr.Code, err)
	}
}

// FromFinishReason reports a content filter when a Gemini completion stopped on a safety rule.
func FromFinishReason(reason string) error {
	switch strings.ToUpper(reason) {
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return &ContentFilteredError{
			Categories: []string{fmt.Sprintf("%s (severity: blocked)", strings.ToLower(reason))},
		}
	default:
		return nil
	}
}

func asGenAIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

// genAIRetryDelay reads the google.rpc.RetryInfo detail, e.g. {"retryDelay": "27s"}.
func genAIRetryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil {
			return delay
		}
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
