package cliexec

import (
	"fmt"
	"strings"
)

// FailoverReason classifies a failed CLI run for the orchestrator's
// backend fail-over logic.
type FailoverReason string

const (
	ReasonRateLimit        FailoverReason = "rate-limit"
	ReasonAuth             FailoverReason = "auth"
	ReasonQuota            FailoverReason = "quota"
	ReasonNetwork          FailoverReason = "network"
	ReasonModelUnavailable FailoverReason = "model-unavailable"
	ReasonTimeout          FailoverReason = "timeout"
	ReasonUnknown          FailoverReason = "unknown"
)

// FailoverError is raised for a non-zero exit or a killed process. It is
// surfaced to the orchestrator, never retried at this layer.
type FailoverError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Message  string
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("cli run failed (%s/%s): %s: %s", e.Provider, e.Model, e.Reason, e.Message)
}

// ClassifyFailoverReason derives the reason from the error text. Pure.
func ClassifyFailoverReason(msg string) FailoverReason {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit"), strings.Contains(m, "rate_limit"),
		strings.Contains(m, "429"), strings.Contains(m, "too many requests"),
		strings.Contains(m, "overloaded"):
		return ReasonRateLimit
	case strings.Contains(m, "quota"), strings.Contains(m, "credit"),
		strings.Contains(m, "billing"), strings.Contains(m, "insufficient funds"):
		return ReasonQuota
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "401"),
		strings.Contains(m, "403"), strings.Contains(m, "forbidden"),
		strings.Contains(m, "invalid api key"), strings.Contains(m, "authentication"),
		strings.Contains(m, "api key"), strings.Contains(m, "login"):
		return ReasonAuth
	case strings.Contains(m, "model not found"), strings.Contains(m, "unknown model"),
		strings.Contains(m, "model_not_found"), strings.Contains(m, "no such model"),
		strings.Contains(m, "unsupported model"):
		return ReasonModelUnavailable
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"),
		strings.Contains(m, "deadline"):
		return ReasonTimeout
	case strings.Contains(m, "econnrefused"), strings.Contains(m, "connection refused"),
		strings.Contains(m, "connection reset"), strings.Contains(m, "network"),
		strings.Contains(m, "dns"), strings.Contains(m, "enotfound"),
		strings.Contains(m, "socket"), strings.Contains(m, "tls"):
		return ReasonNetwork
	}
	return ReasonUnknown
}
