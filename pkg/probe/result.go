package probe

import "github.com/timlu1024/v2rayN-linux/pkg/store"

// Outcome classifies the observable endings of a single probe attempt
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeConnectError  Outcome = "connect_error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeLaunchFailure Outcome = "launch_failure"
	OutcomeCancelled     Outcome = "cancelled"
)

// Attempt records one spawn-probe-teardown cycle
type Attempt struct {
	Number     int
	Port       int
	Outcome    Outcome
	Diagnostic string
}

// Result is the terminal verdict for one candidate across all attempts
type Result struct {
	Candidate store.Candidate
	Passed    bool
	Attempts  []Attempt
}

// LastDiagnostic returns the diagnostic text of the final attempt
func (r Result) LastDiagnostic() string {
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Diagnostic
}
