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

package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/wavelet-team/wavelet/server/logging"
)

func TestLogging(t *testing.T) {
	t.Run("set log level test", func(t *testing.T) {
		assert.NoError(t, logging.SetLogLevel("warn"))
		assert.False(t, logging.Enabled(zapcore.InfoLevel))
		assert.True(t, logging.Enabled(zapcore.ErrorLevel))

		assert.Error(t, logging.SetLogLevel("verbose"))
		assert.NoError(t, logging.SetLogLevel("info"))
	})

	t.Run("set log format test", func(t *testing.T) {
		assert.NoError(t, logging.SetLogFormat("JSON"))
		assert.NoError(t, logging.SetLogFormat("console"))
		assert.Error(t, logging.SetLogFormat("xml"))
	})

	t.Run("context logger test", func(t *testing.T) {
		logger := logging.New("s1", logging.NewField("document", "acme$page"))
		ctx := logging.With(context.Background(), logger)
		assert.Equal(t, logger, logging.From(ctx))

		assert.Equal(t, logging.DefaultLogger(), logging.From(context.Background()))
	})
}
