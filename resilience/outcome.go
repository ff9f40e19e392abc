package resilience

// OutcomeKind classifies the result of an Executor.Execute call.
type OutcomeKind int

const (
	// OutcomeSuccess means a value was returned, from the cache or the operation.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRateLimited means the call was rejected before being attempted
	// because no token was available.
	OutcomeRateLimited
	// OutcomeCircuitOpen means the call was rejected before being attempted
	// because the circuit breaker is open.
	OutcomeCircuitOpen
	// OutcomeFailed means the operation was attempted and failed.
	OutcomeFailed
)

// String returns the string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeCircuitOpen:
		return "circuit-open"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of an Executor.Execute call.
//
// Rejections (rate-limited, circuit-open) mean the operation was never
// attempted and carry the matching sentinel error; OutcomeFailed wraps the
// operation's own error so callers can unwrap the cause with errors.Is/As.
type Outcome struct {
	Kind  OutcomeKind
	Value any
	Err   error
}

// Success reports whether the call produced a value.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}
