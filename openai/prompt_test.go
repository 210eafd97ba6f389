package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		ok     bool
	}{
		{"normal prompt", "a lighthouse at dusk", true},
		{"empty", "", false},
		{"whitespace only", "   \t  ", false},
		{"at length limit", strings.Repeat("a", MaxPromptLength), true},
		{"over length limit", strings.Repeat("a", MaxPromptLength+1), false},
		{"forbidden word", "a naked man on a beach", false},
		{"forbidden word uppercase", "VIOLENT storm over the sea", false},
		{"forbidden word embedded", "weathered bloodhound", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ValidatePrompt(tt.prompt)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestOptimizePrompt(t *testing.T) {
	t.Run("short prompt gets quality and style suffixes", func(t *testing.T) {
		got := OptimizePrompt("a red fox")
		assert.Equal(t, "a red fox, high quality, detailed, professional, digital art style", got)
	})

	t.Run("style-less prompt under 100 chars gets style suffix", func(t *testing.T) {
		got := OptimizePrompt("a lighthouse on a rocky coast at dusk")
		assert.Equal(t, "a lighthouse on a rocky coast at dusk, digital art style", got)
	})

	t.Run("prompt mentioning style is untouched", func(t *testing.T) {
		prompt := "a lighthouse on a rocky coast, watercolor painting"
		assert.Equal(t, prompt, OptimizePrompt(prompt))
	})

	t.Run("long prompt is untouched", func(t *testing.T) {
		prompt := strings.Repeat("a detailed scene ", 10)
		assert.Equal(t, strings.TrimSpace(prompt), OptimizePrompt(prompt))
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		got := OptimizePrompt("  a red fox  ")
		assert.True(t, strings.HasPrefix(got, "a red fox,"))
	})
}
