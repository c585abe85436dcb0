package chat

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// DefaultMaxHistory is the number of messages kept when no limit is set.
const DefaultMaxHistory = 20

// History is a bounded conversation window. It keeps at most maxMessages
// messages and, when a token budget is set, drops the oldest turns until
// the window fits it.
//
// All methods are safe for concurrent use.
type History struct {
	maxMessages int

	mu       sync.Mutex
	messages []llm.Message
}

// NewHistory returns a History holding at most maxMessages messages. A
// non-positive value selects [DefaultMaxHistory].
func NewHistory(maxMessages int) *History {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxHistory
	}
	return &History{maxMessages: maxMessages}
}

// Append adds msgs and evicts the oldest messages beyond the limit.
func (h *History) Append(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	if over := len(h.messages) - h.maxMessages; over > 0 {
		h.messages = append(h.messages[:0:0], h.messages[over:]...)
	}
}

// Messages returns a copy of the window, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Reset clears the window.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// fit drops leading messages from msgs until count reports at most budget
// tokens. The last message is always kept. A non-positive budget disables
// trimming.
func fit(msgs []llm.Message, budget int, count func([]llm.Message) (int, error)) []llm.Message {
	if budget <= 0 {
		return msgs
	}
	for len(msgs) > 1 {
		n, err := count(msgs)
		if err != nil || n <= budget {
			return msgs
		}
		msgs = msgs[1:]
		// Never open the window on an assistant reply.
		for len(msgs) > 1 && msgs[0].Role == llm.RoleAssistant {
			msgs = msgs[1:]
		}
	}
	return msgs
}
