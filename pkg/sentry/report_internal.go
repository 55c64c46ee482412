// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceWindow = 2 * time.Hour

var (
	debounceMu      sync.Mutex
	debounceEnabled = true
	lastSent        = map[string]time.Time{}
)

func setDebounce(enabled bool) {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	debounceEnabled = enabled
}

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	setDebounce(false)
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	setDebounce(true)
}

// shouldSend reports whether an event of this level and title may be sent now
// and records the send.
func shouldSend(level sentry.Level, err error) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	if !debounceEnabled {
		return true
	}

	key := string(level) + "|" + getMeaningfulErrorTitle(err)
	if last, ok := lastSent[key]; ok && time.Since(last) < debounceWindow {
		return false
	}

	lastSent[key] = time.Now()

	return true
}

// reportFatal logs the error with a stack trace, sends it to sentry and panics.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("hwvtep-core has encountered a fatal error and will now terminate")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)

	log.Panic("Fatal error")
}

// reportError always logs; the sentry event is debounced.
func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw(err.Error(), flatten(context)...)

	if shouldSend(sentry.LevelError, err) {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
	}
}

// reportWarning always logs; the sentry event is debounced.
func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warnw(err.Error(), flatten(context)...)

	if shouldSend(sentry.LevelWarning, err) {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
	}
}

func flatten(context map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(context)*2)
	for k, v := range context {
		kv = append(kv, k, v)
	}

	return kv
}
