package types

import (
	"encoding/json"
	"time"
)

// RunState is the state of one adaptive scheduler run
type RunState string

const (
	RunStateIdle          RunState = "idle"
	RunStateRunning       RunState = "running"
	RunStateCompleted     RunState = "completed"
	RunStateHaltedOnQuota RunState = "halted_on_quota"
)

// Delays are the scheduler's current pacing values
type Delays struct {
	Group time.Duration `json:"group"`
	Item  time.Duration `json:"item"`
}

// QuotaInfo describes a quota exhaustion observed during a run
type QuotaInfo struct {
	Exceeded    bool          `json:"quotaExceeded"`
	RetryAfter  time.Duration `json:"-"`
	QuotaMetric string        `json:"quotaMetric,omitempty"`
	QuotaLimit  string        `json:"quotaLimit,omitempty"`
}

// MarshalJSON renders RetryAfter in milliseconds
func (q QuotaInfo) MarshalJSON() ([]byte, error) {
	type alias QuotaInfo
	return json.Marshal(struct {
		alias
		RetryAfterMs int64 `json:"retryAfter"`
	}{alias: alias(q), RetryAfterMs: q.RetryAfter.Milliseconds()})
}

func (q *QuotaInfo) UnmarshalJSON(data []byte) error {
	type alias QuotaInfo
	aux := struct {
		*alias
		RetryAfterMs int64 `json:"retryAfter"`
	}{alias: (*alias)(q)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	q.RetryAfter = time.Duration(aux.RetryAfterMs) * time.Millisecond
	return nil
}

// QuotaInfoFrom builds QuotaInfo from a rate limit error
func QuotaInfoFrom(err *RateLimitedError) *QuotaInfo {
	info := &QuotaInfo{Exceeded: true, RetryAfter: err.RetryAfter}
	if err.Quota != nil {
		info.QuotaMetric = err.Quota.Metric
		info.QuotaLimit = err.Quota.Limit
	}
	return info
}

// FailedMessage is a message whose processing returned an error
type FailedMessage struct {
	Item        WorkItem `json:"item"`
	Err         error    `json:"-"`
	IsRateLimit bool     `json:"is_rate_limit"`
}

// SkippedMessage is a message that produced no synopsis without failing
type SkippedMessage struct {
	Item WorkItem `json:"item"`
}

// BatchOutcome aggregates one scheduler run
type BatchOutcome struct {
	State         RunState           `json:"state"`
	Successful    []ProcessedMessage `json:"successful"`
	Failed        []FailedMessage    `json:"failed"`
	Skipped       []SkippedMessage   `json:"skipped"`
	Deferred      []WorkItem         `json:"deferred"` // not attempted because the run halted
	QuotaInfo     *QuotaInfo         `json:"quota_info,omitempty"`
	CurrentDelays Delays             `json:"current_delays"`
	Aborted       error              `json:"-"` // auth or permission failure that stopped the run
}

// RateLimited returns true if the run halted on a quota error
func (o *BatchOutcome) RateLimited() bool {
	return o.State == RunStateHaltedOnQuota
}
