/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package backoff retries operations with exponentially growing waits.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is returned when every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy describes how often and how long to wait between attempts.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// Interval returns the wait before the given retry: 2^retries * base, capped
// at max.
func Interval(retries uint64, base, max time.Duration) time.Duration {
	interval := time.Duration(math.Pow(2, float64(retries))) * base
	if max < interval || interval <= 0 {
		return max
	}

	return interval
}

// Retry calls fn until it succeeds, returns an error retryable rejects, ctx
// is done or the retries of the policy are exhausted. A nil retryable retries
// every error.
func Retry(
	ctx context.Context,
	policy Policy,
	fn func(ctx context.Context) error,
	retryable func(error) bool,
) error {
	var lastErr error
	for retries := uint64(0); retries <= policy.MaxRetries; retries++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		lastErr = err

		if retries == policy.MaxRetries {
			break
		}

		timer := time.NewTimer(Interval(retries, policy.BaseInterval, policy.MaxInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%d attempts: %w: %w", policy.MaxRetries+1, ErrRetriesExhausted, lastErr)
}
