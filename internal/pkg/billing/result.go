package billing

import "fmt"

// ResultKind classifies a handler outcome for the supervisor.
type ResultKind int

const (
	ResultProcessed ResultKind = iota
	ResultPermanentFailure
	ResultTransientFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultProcessed:
		return "processed"
	case ResultPermanentFailure:
		return "permanent_failure"
	case ResultTransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// Result is returned by every handler instead of raising. Only transient
// failures are retried.
type Result struct {
	Kind   ResultKind
	Reason string
}

func Processed() Result {
	return Result{Kind: ResultProcessed}
}

// ProcessedWithNote is a successful outcome that carries an operator note,
// e.g. when no local record matched.
func ProcessedWithNote(note string) Result {
	return Result{Kind: ResultProcessed, Reason: note}
}

func PermanentFailure(reason string) Result {
	return Result{Kind: ResultPermanentFailure, Reason: reason}
}

func TransientFailure(err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Result{Kind: ResultTransientFailure, Reason: reason}
}

func (r Result) IsProcessed() bool { return r.Kind == ResultProcessed }

// Retryable reports whether the supervisor should schedule another attempt.
func (r Result) Retryable() bool { return r.Kind == ResultTransientFailure }

func (r Result) String() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Reason
}
