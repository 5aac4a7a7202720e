package synopsis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/llm"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const llmService = "llm"

const (
	retryInfoType    = "type.googleapis.com/google.rpc.RetryInfo"
	quotaFailureType = "type.googleapis.com/google.rpc.QuotaFailure"
)

var (
	retryInPattern     = regexp.MustCompile(`(?i)retry in ([\d.]+)\s*s`)
	retryDelayPattern  = regexp.MustCompile(`"retryDelay"\s*:\s*"([\d.]+)s"`)
	quotaMetricPattern = regexp.MustCompile(`"quotaMetric"\s*:\s*"([^"]+)"`)
	quotaValuePattern  = regexp.MustCompile(`"quotaValue"\s*:\s*"?(\d+)`)
)

// rpcStatus is the google.rpc.Status error envelope
type rpcStatus struct {
	Error struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Status  string            `json:"status"`
		Details []json.RawMessage `json:"details"`
	} `json:"error"`
}

type rpcDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay"`
	Violations []struct {
		QuotaMetric string `json:"quotaMetric"`
		QuotaId     string `json:"quotaId"`
		QuotaValue  string `json:"quotaValue"`
	} `json:"violations"`
}

// classifyError maps a model call failure onto the pipeline taxonomy
func classifyError(err error, now time.Time) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		return &types.TransientError{Service: llmService, Err: err}
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return rateLimitFromBody(apiErr, now)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &types.AuthError{Service: llmService, Message: errorMessage(apiErr.Body)}
	default:
		return &types.TransientError{Service: llmService, StatusCode: apiErr.StatusCode, Err: err}
	}
}

// rateLimitFromBody reads retry and quota hints from the structured error
// details first and falls back to pattern matching the raw payload
func rateLimitFromBody(apiErr *llm.APIError, now time.Time) *types.RateLimitedError {
	rl := &types.RateLimitedError{
		Service:    llmService,
		StatusCode: apiErr.StatusCode,
		Message:    errorMessage(apiErr.Body),
	}

	var status rpcStatus
	if err := json.Unmarshal(apiErr.Body, &status); err == nil {
		for _, raw := range status.Error.Details {
			var detail rpcDetail
			if err := json.Unmarshal(raw, &detail); err != nil {
				continue
			}
			switch detail.Type {
			case retryInfoType:
				if d, err := time.ParseDuration(detail.RetryDelay); err == nil && d > 0 {
					rl.RetryAfter = d
				}
			case quotaFailureType:
				if len(detail.Violations) > 0 {
					v := detail.Violations[0]
					rl.Quota = &types.QuotaDetail{Metric: v.QuotaMetric, Limit: v.QuotaValue}
					if rl.Quota.Limit == "" {
						rl.Quota.Limit = v.QuotaId
					}
				}
			}
		}
	}

	raw := string(apiErr.Body)
	if rl.RetryAfter == 0 {
		rl.RetryAfter = retryFromText(raw)
	}
	if rl.RetryAfter == 0 && apiErr.Header != nil {
		rl.RetryAfter = common.ParseRetryAfter(apiErr.Header.Get("Retry-After"), now)
	}
	if rl.Quota == nil {
		if m := quotaMetricPattern.FindStringSubmatch(raw); m != nil {
			rl.Quota = &types.QuotaDetail{Metric: m[1]}
			if v := quotaValuePattern.FindStringSubmatch(raw); v != nil {
				rl.Quota.Limit = v[1]
			}
		}
	}
	return rl
}

func retryFromText(raw string) time.Duration {
	for _, re := range []*regexp.Regexp{retryDelayPattern, retryInPattern} {
		if m := re.FindStringSubmatch(raw); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}

func errorMessage(body []byte) string {
	var status rpcStatus
	if err := json.Unmarshal(body, &status); err == nil && status.Error.Message != "" {
		return status.Error.Message
	}
	return truncateRunes(strings.TrimSpace(string(body)), 200)
}
