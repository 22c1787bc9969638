// Package recovery classifies attempt failures and wraps single attempts
// with a bounded inline retry for transient errors only.
//
// The one invariant everything here serves: never retry a request that is
// guaranteed to fail identically given identical inputs.
package recovery

import (
	"context"
	"errors"
	"strings"
)

// Class buckets an error by whether retrying can help
type Class string

const (
	// ClassTransient failures are expected to resolve on retry without
	// changing inputs: network errors, timeouts, 5xx, rate limits.
	ClassTransient Class = "transient"
	// ClassDeterministic failures recur given identical inputs: validation,
	// schema mismatches, patch application. Retrying wastes tokens on a
	// guaranteed-repeat failure.
	ClassDeterministic Class = "deterministic"
	// ClassFatal covers programming errors and anything unclassified;
	// surfaced immediately, no retry.
	ClassFatal Class = "fatal"
)

// ErrPatchApply marks malformed or out-of-scope patch failures
// (deterministic). Callers wrap it to force the classification.
var ErrPatchApply = errors.New("patch application failed")

// Classify maps an error into a retry class. Unknown errors default to
// fatal, not transient: blind retries of unclassified failures are how
// token budgets evaporate.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	if errors.Is(err, ErrPatchApply) {
		return ClassDeterministic
	}
	// An open circuit is the provider being unhealthy, which is the same
	// condition that opened it: transient, worth a later attempt.
	if errors.Is(err, ErrCircuitOpen) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits (429) are transient
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "overloaded") {
		return ClassTransient
	}

	// Server errors (5xx) are transient
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return ClassTransient
	}

	// Network/connection errors are transient
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return ClassTransient
	}

	// Validation/schema wording without the sentinel still classifies
	// deterministic, as do 4xx client errors other than rate limits
	if strings.Contains(errStr, "validation") || strings.Contains(errStr, "schema") ||
		strings.Contains(errStr, "malformed") || strings.Contains(errStr, "invalid enum") ||
		strings.Contains(errStr, "400") || strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") || strings.Contains(errStr, "404") {
		return ClassDeterministic
	}

	return ClassFatal
}
