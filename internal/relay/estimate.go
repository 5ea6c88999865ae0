package relay

import (
	"unicode/utf8"

	"github.com/JillVernus/chat-relay/internal/model"
)

// EstimateTokens approximates the token count of text as ceil(runes / 4)
func EstimateTokens(text string) int64 {
	runes := utf8.RuneCountInString(text)
	return int64((runes + 3) / 4)
}

// estimatePrompt sums the estimates of every history turn plus the new
// content
func estimatePrompt(history []model.Message, content string) int64 {
	total := EstimateTokens(content)
	for _, turn := range history {
		total += EstimateTokens(turn.Content)
	}
	return total
}
