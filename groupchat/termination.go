package groupchat

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// ChatState is the running state a termination condition inspects after
// every message.
type ChatState struct {
	Round     int
	Messages  []types.Message
	StartedAt time.Time
}

// TerminationCondition decides whether the chat should stop. The returned
// reason is surfaced in the chat result. Conditions are combined with OR:
// the first one that fires ends the chat.
type TerminationCondition interface {
	ShouldStop(state *ChatState) (bool, string)
}

// ConditionFunc adapts a function to the TerminationCondition interface.
type ConditionFunc func(state *ChatState) (bool, string)

func (f ConditionFunc) ShouldStop(state *ChatState) (bool, string) { return f(state) }

// MaxRounds stops the chat after the given number of completed rounds.
func MaxRounds(n int) TerminationCondition {
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if s.Round >= n {
			return true, fmt.Sprintf("max rounds reached (%d)", n)
		}
		return false, ""
	})
}

// MaxMessages stops the chat once the transcript reaches n messages,
// counting the opening message.
func MaxMessages(n int) TerminationCondition {
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if len(s.Messages) >= n {
			return true, fmt.Sprintf("max messages reached (%d)", n)
		}
		return false, ""
	})
}

// Timeout stops the chat once the wall clock since the first round
// exceeds d.
func Timeout(d time.Duration) TerminationCondition {
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if time.Since(s.StartedAt) >= d {
			return true, fmt.Sprintf("timeout after %s", d)
		}
		return false, ""
	})
}

// defaultStopWords end the chat when no explicit keywords are configured.
var defaultStopWords = []string{"TERMINATE", "DONE"}

// Keywords stops the chat when the latest message contains any of the
// given words, case-insensitively. With no words, TERMINATE and DONE are
// used.
func Keywords(words ...string) TerminationCondition {
	if len(words) == 0 {
		words = defaultStopWords
	}
	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w)
	}
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if len(s.Messages) == 0 {
			return false, ""
		}
		last := strings.ToLower(s.Messages[len(s.Messages)-1].Content)
		for i, w := range lowered {
			if strings.Contains(last, w) {
				return true, fmt.Sprintf("keyword %q seen", words[i])
			}
		}
		return false, ""
	})
}

// Consensus stops the chat when the last n messages, each from a distinct
// speaker, carry identical content. It approximates the participants
// having converged on one answer.
func Consensus(n int) TerminationCondition {
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if n < 2 || len(s.Messages) < n {
			return false, ""
		}
		tail := s.Messages[len(s.Messages)-n:]
		speakers := make(map[string]bool, n)
		for _, m := range tail {
			if m.Content != tail[0].Content {
				return false, ""
			}
			speakers[m.From] = true
		}
		if len(speakers) < n {
			return false, ""
		}
		return true, fmt.Sprintf("consensus across %d speakers", n)
	})
}

// NoProgress stops the chat when one speaker repeats the same content n
// times in a row, a sign the conversation is looping.
func NoProgress(n int) TerminationCondition {
	return ConditionFunc(func(s *ChatState) (bool, string) {
		if n < 2 || len(s.Messages) < n {
			return false, ""
		}
		tail := s.Messages[len(s.Messages)-n:]
		for _, m := range tail[1:] {
			if m.From != tail[0].From || m.Content != tail[0].Content {
				return false, ""
			}
		}
		return true, fmt.Sprintf("no progress over %d messages", n)
	})
}

// anyOf evaluates conditions in order and reports the first that fires.
func anyOf(conditions []TerminationCondition, state *ChatState) (bool, string) {
	for _, c := range conditions {
		if stop, reason := c.ShouldStop(state); stop {
			return true, reason
		}
	}
	return false, ""
}
