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

package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wavelet-team/wavelet/pkg/backoff"
)

var errTransient = errors.New("transient")

func TestInterval(t *testing.T) {
	t.Run("grows exponentially up to max test", func(t *testing.T) {
		base, max := 100*time.Millisecond, time.Second
		assert.Equal(t, 100*time.Millisecond, backoff.Interval(0, base, max))
		assert.Equal(t, 200*time.Millisecond, backoff.Interval(1, base, max))
		assert.Equal(t, 800*time.Millisecond, backoff.Interval(3, base, max))
		assert.Equal(t, time.Second, backoff.Interval(4, base, max))
		assert.Equal(t, time.Second, backoff.Interval(80, base, max))
	})
}

func TestRetry(t *testing.T) {
	policy := backoff.Policy{MaxRetries: 3, BaseInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond}

	t.Run("succeeds after transient errors test", func(t *testing.T) {
		attempts := 0
		err := backoff.Retry(context.Background(), policy, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		}, nil)
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausted retries test", func(t *testing.T) {
		attempts := 0
		err := backoff.Retry(context.Background(), policy, func(context.Context) error {
			attempts++
			return errTransient
		}, nil)
		assert.ErrorIs(t, err, backoff.ErrRetriesExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 4, attempts)
	})

	t.Run("non retryable error returns at once test", func(t *testing.T) {
		permanent := errors.New("permanent")
		attempts := 0
		err := backoff.Retry(context.Background(), policy, func(context.Context) error {
			attempts++
			return permanent
		}, func(err error) bool { return errors.Is(err, errTransient) })
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled context stops waiting test", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := backoff.Policy{MaxRetries: 5, BaseInterval: time.Hour, MaxInterval: time.Hour}
		err := backoff.Retry(ctx, slow, func(context.Context) error { return errTransient }, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
