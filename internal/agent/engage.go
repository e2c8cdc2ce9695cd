package agent

import "strings"

// Engagement scoring. Everything here is a pure function of the message
// text and two flags; the same inputs always produce the same decision.
const (
	engageThreshold = 50

	buffCarryScore    = 30
	mentionScore      = 100
	nameTriggerScore  = 40
	queryTriggerScore = 20
	bangTriggerScore  = 10
)

// Trigger substrings beyond the configured name variants. Every matching
// entry counts, not just the first.
var (
	queryTriggers = []string{"帮", "?", "？", "呢", "嘛", "吗"}
	bangTriggers  = []string{"!", "！"}
)

// EngageScore totals the engagement signals for one message. Matching is
// case-insensitive substring containment per table entry.
func EngageScore(text string, nameVariants []string, mentioned, buffing bool) int {
	score := 0
	if buffing {
		score += buffCarryScore
	}
	if mentioned {
		score += mentionScore
	}

	lower := strings.ToLower(text)
	for _, name := range nameVariants {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			score += nameTriggerScore
		}
	}
	for _, q := range queryTriggers {
		if strings.Contains(lower, q) {
			score += queryTriggerScore
		}
	}
	for _, b := range bangTriggers {
		if strings.Contains(lower, b) {
			score += bangTriggerScore
		}
	}
	return score
}

// ShouldEngage decides whether the agent answers this message.
func ShouldEngage(text string, nameVariants []string, mentioned, buffing bool) bool {
	return EngageScore(text, nameVariants, mentioned, buffing) >= engageThreshold
}
