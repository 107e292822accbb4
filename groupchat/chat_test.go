package groupchat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentgraph/types"
)

func echoResponder(content func(speaker types.Participant, round int) string) Responder {
	return func(_ context.Context, speaker types.Participant, history []types.Message) (*types.Message, error) {
		msg := types.NewMessage(speaker.ID, "", content(speaker, len(history)))
		return &msg, nil
	}
}

func participants(ids ...string) []types.Participant {
	out := make([]types.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Participant{ID: id})
	}
	return out
}

func TestRoundRobinChatOrder(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("p0", "p1", "p2"),
		Selector:     RoundRobinSelector{},
		Termination:  []TerminationCondition{MaxRounds(3)},
		Responder: echoResponder(func(p types.Participant, _ int) string {
			return "from " + p.ID
		}),
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Equal(t, 3, res.Rounds)

	var speakers []string
	for _, m := range res.Messages {
		speakers = append(speakers, m.From)
	}
	assert.Equal(t, []string{"p0", "p1", "p2"}, speakers)
}

func TestKeywordTermination(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("a", "b"),
		Termination:  []TerminationCondition{Keywords(), MaxRounds(10)},
		Responder: echoResponder(func(p types.Participant, round int) string {
			if round == 3 {
				return "I believe we are DONE here"
			}
			return fmt.Sprintf("thought %d", round)
		}),
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Contains(t, res.Reason, "DONE")
	assert.Len(t, res.Messages, 4)
}

func TestConditionsCombineWithOr(t *testing.T) {
	t.Parallel()

	// MaxMessages fires long before MaxRounds would.
	chat, err := NewChat(Config{
		Participants: participants("a"),
		Termination:  []TerminationCondition{MaxRounds(100), MaxMessages(2)},
		Responder: echoResponder(func(_ types.Participant, round int) string {
			return fmt.Sprintf("m%d", round)
		}),
	})
	require.NoError(t, err)

	opening := types.NewMessage("user", "", "hello")
	res, err := chat.Run(context.Background(), &opening)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Contains(t, res.Reason, "max messages")
	assert.Len(t, res.Messages, 2)
}

func TestParticipantFailurePreservesTranscript(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("a", "b"),
		Termination:  []TerminationCondition{MaxRounds(10)},
		Responder: func(_ context.Context, speaker types.Participant, history []types.Message) (*types.Message, error) {
			if len(history) == 2 {
				return nil, errors.New("model unavailable")
			}
			msg := types.NewMessage(speaker.ID, "", "ok")
			return &msg, nil
		},
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNodeExecution))
	assert.Equal(t, ChatFailed, res.Status)
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 2, res.Rounds)
}

func TestChatCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	chat, err := NewChat(Config{
		Participants: participants("a"),
		Termination:  []TerminationCondition{MaxRounds(1000)},
		Responder: func(_ context.Context, speaker types.Participant, history []types.Message) (*types.Message, error) {
			if len(history) == 5 {
				cancel()
			}
			msg := types.NewMessage(speaker.ID, "", "more")
			return &msg, nil
		},
	})
	require.NoError(t, err)

	res, err := chat.Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCancelled))
	assert.Equal(t, ChatFailed, res.Status)
	assert.NotEmpty(t, res.Messages)
}

func TestConsensusTermination(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("a", "b", "c"),
		Termination:  []TerminationCondition{Consensus(3), MaxRounds(20)},
		Responder: echoResponder(func(_ types.Participant, round int) string {
			if round >= 2 {
				return "ship it"
			}
			return fmt.Sprintf("draft %d", round)
		}),
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Contains(t, res.Reason, "consensus")
}

func TestNoProgressTermination(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("solo"),
		Termination:  []TerminationCondition{NoProgress(3), MaxRounds(50)},
		Responder: echoResponder(func(_ types.Participant, _ int) string {
			return "same thing again"
		}),
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Contains(t, res.Reason, "no progress")
	assert.Len(t, res.Messages, 3)
}

func TestChatTimeout(t *testing.T) {
	t.Parallel()

	chat, err := NewChat(Config{
		Participants: participants("a"),
		Termination:  []TerminationCondition{Timeout(30 * time.Millisecond), MaxRounds(10000)},
		Responder: func(_ context.Context, speaker types.Participant, _ []types.Message) (*types.Message, error) {
			time.Sleep(5 * time.Millisecond)
			msg := types.NewMessage(speaker.ID, "", "tick")
			return &msg, nil
		},
	})
	require.NoError(t, err)

	res, err := chat.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ChatCompleted, res.Status)
	assert.Contains(t, res.Reason, "timeout")
}

func TestNewChatValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChat(Config{
		Termination: []TerminationCondition{MaxRounds(1)},
		Responder:   echoResponder(func(types.Participant, int) string { return "" }),
	})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = NewChat(Config{
		Participants: participants("a"),
		Responder:    echoResponder(func(types.Participant, int) string { return "" }),
	})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = NewChat(Config{
		Participants: participants("a"),
		Termination:  []TerminationCondition{MaxRounds(1)},
	})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

// Round robin gives every participant exactly k turns over k*n rounds,
// regardless of the participant count.
func TestRoundRobinFairness(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "participants")
		k := rapid.IntRange(1, 6).Draw(rt, "turns_each")

		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("p%d", i)
		}
		chat, err := NewChat(Config{
			Participants: participants(ids...),
			Termination:  []TerminationCondition{MaxRounds(k * n)},
			Responder: echoResponder(func(p types.Participant, _ int) string {
				return p.ID
			}),
		})
		require.NoError(rt, err)

		res, err := chat.Run(context.Background(), nil)
		require.NoError(rt, err)

		counts := map[string]int{}
		for _, m := range res.Messages {
			counts[m.From]++
		}
		for _, id := range ids {
			require.Equal(rt, k, counts[id])
		}
	})
}
