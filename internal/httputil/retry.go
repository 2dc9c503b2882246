// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the network client the scrapers fetch through.
package httputil

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff between
// attempts. Tests override this to avoid real sleeps.
var RetryBaseDelay = 1 * time.Second

// retryable reports whether a response status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// DoWithRetry executes an HTTP request and retries up to maxRetries times on
// HTTP 429, HTTP 503 and transport errors, with exponential backoff starting
// at RetryBaseDelay. A maxRetries of 0 performs a single attempt.
//
// On a retryable status the body is drained and closed before sleeping. If
// the context is cancelled the function returns ctx.Err(). After exhausting
// retries the last response (or transport error) is returned so the caller
// can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= maxRetries {
				return nil, err
			}
		} else {
			if !retryable(resp.StatusCode) || attempt >= maxRetries {
				return resp, nil
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		slog.DebugContext(ctx, "retrying request",
			"url", req.URL.String(), "backoff", backoff, "attempt", attempt+1, "max", maxRetries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
