package reply

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// maxLLMAttempts is the total number of tries (first call + 2 retries),
// matching the original retry_delay/max_retries policy.
const maxLLMAttempts = 3

const retryBaseDelay = 1 * time.Second

// CallLLMWithRetry calls llm.Complete up to maxLLMAttempts times with
// exponential backoff (1s, 2s, ...), retrying only network/DNS and timeout
// errors. Any other error, or exhausting all attempts, returns the last
// error.
func CallLLMWithRetry(ctx context.Context, llm orchestrator.LLMProvider, messages []orchestrator.Message) (string, error) {
	var lastErr error

	for attempt := 0; attempt < maxLLMAttempts; attempt++ {
		text, err := llm.Complete(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt == maxLLMAttempts-1 || !isRetryable(err) {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "getaddrinfo") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "dns")
}
