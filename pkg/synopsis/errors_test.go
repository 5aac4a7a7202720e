package synopsis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/llm"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const structuredQuotaBody = `{
  "error": {
    "code": 429,
    "message": "You exceeded your current quota.",
    "status": "RESOURCE_EXHAUSTED",
    "details": [
      {
        "@type": "type.googleapis.com/google.rpc.QuotaFailure",
        "violations": [
          {"quotaMetric": "generativelanguage.googleapis.com/generate_content_free_tier_requests", "quotaId": "GenerateRequestsPerMinute", "quotaValue": "15"}
        ]
      },
      {"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "30s"}
    ]
  }
}`

func TestClassifyErrorStructuredQuota(t *testing.T) {
	err := classifyError(&llm.APIError{StatusCode: 429, Body: []byte(structuredQuotaBody)}, time.Now())

	rl, ok := types.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	require.NotNil(t, rl.Quota)
	assert.Equal(t, "generativelanguage.googleapis.com/generate_content_free_tier_requests", rl.Quota.Metric)
	assert.Equal(t, "15", rl.Quota.Limit)
	assert.Equal(t, "You exceeded your current quota.", rl.Message)
}

func TestClassifyErrorRegexFallback(t *testing.T) {
	body := `upstream said: quota hit, "quotaMetric": "requests_per_minute", "quotaValue": 60, please retry in 12.5s`
	err := classifyError(&llm.APIError{StatusCode: 503, Body: []byte(body)}, time.Now())

	rl, ok := types.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 12500*time.Millisecond, rl.RetryAfter)
	require.NotNil(t, rl.Quota)
	assert.Equal(t, "requests_per_minute", rl.Quota.Metric)
	assert.Equal(t, "60", rl.Quota.Limit)
}

func TestClassifyErrorRetryAfterHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "9")
	err := classifyError(&llm.APIError{StatusCode: 429, Body: []byte("busy"), Header: header}, time.Now())

	rl, ok := types.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 9*time.Second, rl.RetryAfter)
	assert.Nil(t, rl.Quota)
}

func TestClassifyErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"unauthorized", &llm.APIError{StatusCode: 401}, types.ErrorKindAuth},
		{"forbidden", &llm.APIError{StatusCode: 403, Body: []byte(`{"error":{"message":"API key invalid"}}`)}, types.ErrorKindAuth},
		{"server error", &llm.APIError{StatusCode: 500}, types.ErrorKindTransient},
		{"bad request", &llm.APIError{StatusCode: 400}, types.ErrorKindTransient},
		{"network", fmt.Errorf("dial tcp: connection refused"), types.ErrorKindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types.KindOf(classifyError(tt.err, time.Now())))
		})
	}
}

func TestClassifyErrorKeepsCancellation(t *testing.T) {
	err := classifyError(fmt.Errorf("call: %w", context.Canceled), time.Now())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, types.ErrorKindUnknown, types.KindOf(err))
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	body := []byte("x" + strings.Repeat("日本", 150))

	msg := errorMessage(body)
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, 200, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasPrefix(string(body), msg))

	assert.Equal(t, "upstream unavailable", errorMessage([]byte("  upstream unavailable \n")))
}
