package config

import (
	"fmt"
	"strings"
)

const (
	countdownPrefix = "countdown:session:"
	pausedPrefix    = "countdown:paused:"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CountdownKey returns the key holding a session's remaining seconds.
// The session id is a hash tag so active and paused keys share a cluster slot.
func (r *CacheKeyStruct) CountdownKey(sessionID string) string {
	return countdownPrefix + "{" + sessionID + "}"
}

// CountdownPattern matches every active countdown key. Paused keys live in a
// separate namespace so SCAN never yields them.
func (r *CacheKeyStruct) CountdownPattern() string {
	return countdownPrefix + "*"
}

// SessionIDFromCountdownKey extracts the session id from a countdown key.
func (r *CacheKeyStruct) SessionIDFromCountdownKey(key string) (string, bool) {
	if !strings.HasPrefix(key, countdownPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, countdownPrefix)
	return strings.TrimSuffix(strings.TrimPrefix(id, "{"), "}"), true
}

// PausedCountdownKey returns the side key a paused countdown is moved to.
func (r *CacheKeyStruct) PausedCountdownKey(sessionID string) string {
	return pausedPrefix + "{" + sessionID + "}"
}

// CompletionLockKey returns the lease key guarding a session's completion.
func (r *CacheKeyStruct) CompletionLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock:completion", sessionID)
}

// GradingLockKey returns the lease key serializing a session's grade recompute.
func (r *CacheKeyStruct) GradingLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock:grading", sessionID)
}

// TestDefinitionKey returns the cache key for a test definition.
func (r *CacheKeyStruct) TestDefinitionKey(testID string) string {
	return fmt.Sprintf("test:%s:definition", testID)
}

// QuestionPoolKey returns the cache key for a test's question pool.
func (r *CacheKeyStruct) QuestionPoolKey(testID string) string {
	return fmt.Sprintf("test:%s:pool", testID)
}

// CountdownTopic returns the pub/sub topic carrying countdown ticks.
func (r *CacheKeyStruct) CountdownTopic(sessionID string) string {
	return fmt.Sprintf("session:%s:countdown", sessionID)
}

// CompletionTopic returns the pub/sub topic carrying completion markers.
func (r *CacheKeyStruct) CompletionTopic(sessionID string) string {
	return fmt.Sprintf("session:%s:completion", sessionID)
}

var CacheKey = NewCacheKeyStruct()
