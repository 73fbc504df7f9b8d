package agent

import (
	"fmt"
	"sort"
)

const (
	// FallbackReply is returned when a completed run left no usable assistant message
	FallbackReply = "I apologize, but I couldn't generate a response."
)

// statusReply is the user-facing text for a run that did not complete
func statusReply(status RunStatus) string {
	return fmt.Sprintf("Sorry, there was an error processing your request. Status: %s", status)
}

// errorReply is the user-facing text for a failed turn
func errorReply(err error) string {
	return fmt.Sprintf("Sorry, there was an error: %v", err)
}

// latestAssistantReply picks the assistant message with the greatest
// timestamp and returns its first text part. Ties keep the earlier entry in
// the slice. A latest message without text yields FallbackReply.
func latestAssistantReply(messages []Message) string {
	var latest *Message
	for i := range messages {
		msg := &messages[i]
		if msg.Role != RoleAssistant {
			continue
		}
		if latest == nil || msg.CreatedAt.After(latest.CreatedAt) {
			latest = msg
		}
	}
	if latest == nil {
		return FallbackReply
	}

	text, ok := latest.FirstText()
	if !ok {
		return FallbackReply
	}
	return text
}

// chronological projects messages to history entries in ascending timestamp order
func chronological(messages []Message) []HistoryEntry {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	history := make([]HistoryEntry, 0, len(sorted))
	for _, msg := range sorted {
		text, _ := msg.FirstText()
		history = append(history, HistoryEntry{
			Role:      msg.Role,
			Text:      text,
			CreatedAt: msg.CreatedAt,
		})
	}
	return history
}
