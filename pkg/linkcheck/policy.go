package linkcheck

import "fmt"

// AggregatePolicyResult is the outcome of evaluating an AggregatePolicy
// against a group's statistics.
type AggregatePolicyResult struct {
	Valid   bool
	Message string
}

func passResult() AggregatePolicyResult {
	return AggregatePolicyResult{Valid: true}
}

func failResult(message string) AggregatePolicyResult {
	return AggregatePolicyResult{Valid: false, Message: message}
}

// AggregatePolicy is a pure predicate over a group's accumulated
// LinkGroupStats. It is evaluated in two distinct roles: as a continuation
// policy (pre-request, short-circuits the remainder of a saturated group)
// and as a final policy (post-drain, yields a synthetic invalid result on
// failure).
type AggregatePolicy interface {
	Evaluate(stats *LinkGroupStats) AggregatePolicyResult
}

// AggregatePolicyFunc adapts a function to an AggregatePolicy.
type AggregatePolicyFunc func(stats *LinkGroupStats) AggregatePolicyResult

// Evaluate calls fn.
func (fn AggregatePolicyFunc) Evaluate(stats *LinkGroupStats) AggregatePolicyResult {
	return fn(stats)
}

// MaxOccurrencesOf builds a continuation policy that fails once statusCode
// has occurred at least maxCount times, e.g. "stop after 3x429".
func MaxOccurrencesOf(statusCode int, maxCount int64) AggregatePolicy {
	return AggregatePolicyFunc(func(stats *LinkGroupStats) AggregatePolicyResult {
		count := stats.CountByStatus(statusCode)
		if count >= maxCount {
			return failResult(fmt.Sprintf("status %d occurred %d times (limit %d)", statusCode, count, maxCount))
		}
		return passResult()
	})
}

// MinValidCount builds a final policy that fails unless at least minCount
// 2xx responses were recorded across the group.
func MinValidCount(minCount int64) AggregatePolicy {
	return AggregatePolicyFunc(func(stats *LinkGroupStats) AggregatePolicyResult {
		var validCount int64
		for status, count := range stats.Snapshot() {
			if status >= 200 && status < 300 {
				validCount += count
			}
		}
		if validCount < minCount {
			return failResult(fmt.Sprintf("only %d valid links, expected at least %d", validCount, minCount))
		}
		return passResult()
	})
}

// evaluateAll runs every policy against stats, returning the first failure
// encountered, or a passing result if all policies pass (or none exist).
func evaluateAll(policies []AggregatePolicy, stats *LinkGroupStats) AggregatePolicyResult {
	for _, policy := range policies {
		result := policy.Evaluate(stats)
		if !result.Valid {
			return result
		}
	}
	return passResult()
}
