package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/proxy"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/portalloc"
	"github.com/timlu1024/v2rayN-linux/pkg/process"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

// Options configures a probe runner
type Options struct {
	// BinaryPath is the proxy engine executable
	BinaryPath string

	// URL is the external endpoint fetched through the candidate's tunnel
	URL string

	// Timeout bounds the HTTP request of one attempt
	Timeout time.Duration

	// Warmup is the wait between engine spawn and the request; the engine
	// has no synchronous ready signal
	Warmup time.Duration

	// AttemptTimeout is the watchdog over one whole attempt, independent of
	// Timeout. A hung engine must not block a scheduler worker indefinitely.
	AttemptTimeout time.Duration

	// TerminateTimeout bounds the SIGTERM-then-SIGKILL teardown
	TerminateTimeout time.Duration

	// MaxAttempts is the retry cap; each attempt gets a fresh port and a
	// fresh engine instance
	MaxAttempts int
}

// Runner performs the reachability probe for one candidate at a time: spawn
// an ephemeral engine instance on a private loopback port, fetch a known URL
// through it, and tear the instance down on every exit path.
type Runner struct {
	options   Options
	allocator *portalloc.Allocator
	logger    logging.Logger
}

// NewRunner creates a probe runner
func NewRunner(options Options, allocator *portalloc.Allocator, logger logging.Logger) *Runner {
	return &Runner{
		options:   options,
		allocator: allocator,
		logger:    logger,
	}
}

// Probe runs up to MaxAttempts spawn-probe-teardown cycles for the candidate
// and returns the terminal verdict. Attempts are strictly sequential: a new
// attempt starts only after the previous instance is fully torn down.
func (r *Runner) Probe(ctx context.Context, candidate store.Candidate) Result {
	result := Result{Candidate: candidate}

	for number := 1; number <= r.options.MaxAttempts; number++ {
		if ctx.Err() != nil {
			result.Attempts = append(result.Attempts, Attempt{
				Number:     number,
				Outcome:    OutcomeCancelled,
				Diagnostic: ctx.Err().Error(),
			})
			return result
		}

		attempt := r.runAttempt(ctx, candidate, number)
		result.Attempts = append(result.Attempts, attempt)

		r.logger.Debugf("Probe attempt finished, candidate: %s, attempt: %d/%d, port: %d, outcome: %s",
			candidate.FileName(), number, r.options.MaxAttempts, attempt.Port, attempt.Outcome)

		if attempt.Outcome == OutcomeSuccess {
			result.Passed = true
			return result
		}
		if attempt.Outcome == OutcomeCancelled {
			return result
		}
	}

	return result
}

// runAttempt executes one spawn-probe-teardown cycle. The deferred cleanup
// is the single path through which subprocess termination and temp file
// removal happen, so no early return can skip them.
func (r *Runner) runAttempt(parent context.Context, candidate store.Candidate, number int) Attempt {
	attempt := Attempt{Number: number}

	// Watchdog over the whole attempt, independent of the request timeout
	ctx, cancel := context.WithTimeout(parent, r.options.AttemptTimeout)
	defer cancel()

	port, err := r.allocator.Allocate()
	if err != nil {
		attempt.Outcome = OutcomeLaunchFailure
		attempt.Diagnostic = fmt.Sprintf("port allocation failed: %v", err)
		return attempt
	}
	attempt.Port = port

	inboundPath, err := writeInboundFile(port)
	if err != nil {
		attempt.Outcome = OutcomeLaunchFailure
		attempt.Diagnostic = fmt.Sprintf("inbound config write failed: %v", err)
		return attempt
	}
	defer os.Remove(inboundPath)

	id := fmt.Sprintf("probe-%s-%d", candidate.FileName(), number)
	handle, err := process.Start(ctx, process.Options{
		ExecutablePath: r.options.BinaryPath,
		Args:           []string{"run", "-c", inboundPath, "-c", candidate.Path},
		DiscardOutput:  true,
	}, id, r.logger)
	if err != nil {
		attempt.Outcome = OutcomeLaunchFailure
		attempt.Diagnostic = fmt.Sprintf("engine launch failed: %v", err)
		return attempt
	}
	defer handle.Terminate(r.options.TerminateTimeout)

	// Warm-up: the engine does not signal readiness
	select {
	case <-time.After(r.options.Warmup):
	case err := <-handle.Done():
		attempt.Outcome = OutcomeLaunchFailure
		attempt.Diagnostic = fmt.Sprintf("engine exited during warm-up: %v", err)
		return attempt
	case <-ctx.Done():
		attempt.Outcome = r.cancelOutcome(parent)
		attempt.Diagnostic = ctx.Err().Error()
		return attempt
	}

	outcome, diagnostic := r.request(ctx, port)
	attempt.Outcome = outcome
	attempt.Diagnostic = diagnostic
	if outcome == OutcomeCancelled || (outcome == OutcomeTimeout && ctx.Err() != nil) {
		attempt.Outcome = r.cancelOutcome(parent)
	}
	return attempt
}

// request performs the bounded HTTP GET through the SOCKS listener
func (r *Runner) request(ctx context.Context, port int) (Outcome, string) {
	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", port), nil, proxy.Direct)
	if err != nil {
		return OutcomeConnectError, fmt.Sprintf("SOCKS dialer setup failed: %v", err)
	}

	transport := &http.Transport{
		Dial:              dialer.Dial,
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   r.options.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.options.URL, nil)
	if err != nil {
		return OutcomeConnectError, fmt.Sprintf("request setup failed: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err), err.Error()
	}
	resp.Body.Close()

	// Any completed response means the tunnel works
	return OutcomeSuccess, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// cancelOutcome distinguishes caller cancellation from the watchdog firing
func (r *Runner) cancelOutcome(parent context.Context) Outcome {
	if parent.Err() != nil {
		return OutcomeCancelled
	}
	return OutcomeTimeout
}

func classifyRequestError(ctx context.Context, err error) Outcome {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(ctx.Err(), context.Canceled) {
		return OutcomeCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeConnectError
}

// HealthCheckError wraps a failed result into a domain error for reporting.
// A candidate whose final attempt hit the watchdog reports as a timeout.
func HealthCheckError(result Result) error {
	message := fmt.Sprintf("candidate %s failed after %d attempts", result.Candidate.FileName(), len(result.Attempts))
	if n := len(result.Attempts); n > 0 && result.Attempts[n-1].Outcome == OutcomeTimeout {
		return errors.NewTimeoutError(message, nil).WithContext("diagnostic", result.LastDiagnostic())
	}
	return errors.NewHealthCheckError(message, nil).WithContext("diagnostic", result.LastDiagnostic())
}
