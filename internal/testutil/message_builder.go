package testutil

import (
	"strconv"

	"github.com/sema-ai/semachat/core"
)

// Messages builds an alternating user/assistant history of n messages,
// numbered from 0. Useful for eviction and replay tests.
func Messages(n int) []core.Message {
	out := make([]core.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, core.NewMessage(core.RoleUser, "question "+strconv.Itoa(i)))
		} else {
			out = append(out, core.NewMessage(core.RoleAssistant, "answer "+strconv.Itoa(i)))
		}
	}
	return out
}

// Conversation builds a history starting with a system message followed by
// n alternating turns.
func Conversation(systemPrompt string, n int) []core.Message {
	out := make([]core.Message, 0, n+1)
	out = append(out, core.NewMessage(core.RoleSystem, systemPrompt))
	return append(out, Messages(n)...)
}
