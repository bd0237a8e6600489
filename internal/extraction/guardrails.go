package extraction

import (
	"errors"
	"strings"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
)

// blockedPhrases are screened out of the input before any model call.
// Matching any of them is a content-policy outcome, not a service failure.
var blockedPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard your instructions",
	"system prompt",
	"you are now",
	"<script",
	"javascript:",
}

// ErrContentBlocked is the sentinel under a content-rejected classification.
var ErrContentBlocked = errors.New("input blocked by content guardrails")

// screenInput rejects text that attempts prompt injection or carries
// markup instead of a grocery list. Returns a non-retryable
// content-rejected error when blocked.
func screenInput(text string) error {
	lowered := strings.ToLower(text)
	for _, phrase := range blockedPhrases {
		if strings.Contains(lowered, phrase) {
			return resilience.Classified(resilience.KindContentRejected, ErrContentBlocked)
		}
	}
	return nil
}
