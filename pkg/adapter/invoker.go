package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/localroute/pkg/config"
	"go.uber.org/zap"
)

// Target names a backend and a model on it.
type Target struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Backend, t.Model)
}

// Caller is the model invocation capability consumed by the decomposer and
// the coordinator.
type Caller interface {
	Call(ctx context.Context, target Target, prompt string, timeout time.Duration) CallResult
}

// Invoker dispatches calls to registered adapters with per-call timeouts,
// retry with exponential backoff on transient errors, and an optional
// fallback chain.
type Invoker struct {
	adapters map[string]Adapter
	retry    config.RetryConfig
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithRetry sets the retry policy.
func WithRetry(retry config.RetryConfig) InvokerOption {
	return func(i *Invoker) {
		i.retry = retry
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) InvokerOption {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger.Named("invoker")
		}
	}
}

// NewInvoker creates an invoker over the given adapters, keyed by Name().
func NewInvoker(adapters []Adapter, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		adapters: make(map[string]Adapter, len(adapters)),
		retry:    config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000},
		logger:   zap.NewNop(),
		sleep:    sleepWithContext,
	}
	for _, a := range adapters {
		if a != nil {
			i.adapters[a.Name()] = a
		}
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Has reports whether a backend is registered.
func (i *Invoker) Has(backend string) bool {
	_, ok := i.adapters[backend]
	return ok
}

// Backends returns the registered backend names.
func (i *Invoker) Backends() []string {
	names := make([]string, 0, len(i.adapters))
	for name := range i.adapters {
		names = append(names, name)
	}
	return names
}

// Call invokes a single target. It never returns a Go error; failures are
// reported through CallResult.
func (i *Invoker) Call(ctx context.Context, target Target, prompt string, timeout time.Duration) CallResult {
	return i.CallWithFallback(ctx, []Target{target}, prompt, timeout)
}

// CallWithFallback tries each target in order until one succeeds.
func (i *Invoker) CallWithFallback(ctx context.Context, targets []Target, prompt string, timeout time.Duration) CallResult {
	start := time.Now()
	var last *Error
	retries := 0

	for idx, target := range targets {
		impl, ok := i.adapters[target.Backend]
		if !ok {
			last = &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("backend %s not configured", target.Backend)}
			continue
		}

		for attempt := 0; attempt <= i.retry.MaxRetries; attempt++ {
			resp, err := i.generate(ctx, impl, target.Model, prompt, timeout)
			if err == nil {
				if idx > 0 {
					i.logger.Info("fallback target succeeded", zap.String("target", target.String()))
				}
				return CallResult{
					Success:    true,
					Text:       resp.Text,
					Usage:      normalizeUsage(resp.Usage),
					Retries:    retries,
					DurationMs: time.Since(start).Milliseconds(),
				}
			}

			last = asError(err)
			i.logger.Debug("call failed",
				zap.String("target", target.String()),
				zap.Int("attempt", attempt),
				zap.String("kind", string(last.Kind)),
				zap.Error(err))

			if ctx.Err() != nil || !IsTransient(err) || attempt == i.retry.MaxRetries {
				break
			}

			retries++
			backoff := computeBackoff(i.retry.BaseBackoffMs, i.retry.MaxBackoffMs, attempt)
			if err := i.sleep(ctx, backoff); err != nil {
				last = asError(err)
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	if last == nil {
		last = &Error{Kind: KindUnknown, Err: fmt.Errorf("no call targets")}
	}
	return CallResult{
		Err:        last,
		ErrorKind:  last.Kind,
		Retries:    retries,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (i *Invoker) generate(ctx context.Context, impl Adapter, model, prompt string, timeout time.Duration) (*Response, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return impl.Generate(callCtx, model, prompt)
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for n := 0; n < attempt; n++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
