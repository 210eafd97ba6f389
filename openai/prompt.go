package openai

import (
	"regexp"
	"strings"
)

const MaxPromptLength = 1000

// Basic denylist applied before spending a provider call; the provider's
// own content policy is the real filter.
var forbiddenWords = []string{
	"nude", "naked", "nsfw", "sexual", "explicit",
	"violence", "violent", "blood", "gore",
	"hate", "racist", "discrimination",
	"illegal", "drugs", "weapon",
}

var styleMention = regexp.MustCompile(`style|art|painting|photo|digital|realistic|cartoon|anime`)

// ValidatePrompt checks a prompt locally. The returned reason is safe to
// show to users.
func ValidatePrompt(prompt string) (bool, string) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return false, "Prompt cannot be empty"
	}
	if len(prompt) > MaxPromptLength {
		return false, "Prompt must be at most 1000 characters"
	}

	lower := strings.ToLower(prompt)
	for _, word := range forbiddenWords {
		if strings.Contains(lower, word) {
			return false, "The prompt contains content that is not allowed. Try something different."
		}
	}

	return true, ""
}

// OptimizePrompt nudges short or style-less prompts toward better
// DALL-E results.
func OptimizePrompt(prompt string) string {
	optimized := strings.TrimSpace(prompt)

	if len(optimized) < 20 {
		optimized += ", high quality, detailed, professional"
	}

	if len(optimized) < 100 && !styleMention.MatchString(strings.ToLower(optimized)) {
		optimized += ", digital art style"
	}

	return optimized
}
