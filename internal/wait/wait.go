// Package wait polls services until they report ready, for test and tooling
// startup ordering.
package wait

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotReady reports that a service did not become ready before the
// deadline.
var ErrNotReady = errors.New("service not ready")

const (
	// DefaultTimeout bounds the whole wait.
	DefaultTimeout = 60 * time.Second

	// DefaultInterval spaces probe attempts.
	DefaultInterval = time.Second

	httpProbeTimeout = 5 * time.Second
)

// Options tune the polling loop. Zero values select the defaults.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// For polls probe until it reports ready or the timeout elapses. A probe
// error counts as not ready and is otherwise swallowed; a service that is
// still starting up is not a failure. On timeout the returned error wraps
// ErrNotReady and names the service. Caller cancellation surfaces as the
// context error instead.
func For(ctx context.Context, name string, probe func(context.Context) (bool, error), opts Options) error {
	opts = opts.withDefaults()

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		ready, err := probe(waitCtx)
		if err == nil && ready {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s did not become ready within %s: %w", name, opts.Timeout, ErrNotReady)
		case <-ticker.C:
		}
	}
}

// ForHTTP polls url with GET until any response below 500 arrives; a serving
// process that answers 404 still counts as up. An empty name falls back to
// the url in messages. Each request carries its own 5s timeout inside the
// overall deadline.
func ForHTTP(ctx context.Context, name, url string, opts Options) error {
	if name == "" {
		name = url
	}
	if _, err := http.NewRequest(http.MethodGet, url, nil); err != nil {
		return fmt.Errorf("invalid url %q: %w", url, err)
	}

	client := &http.Client{
		Timeout:   httpProbeTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	probe := func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError, nil
	}
	return For(ctx, name, probe, opts)
}
