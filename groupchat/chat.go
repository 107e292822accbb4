package groupchat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// Responder produces a participant's contribution for the current round,
// given the transcript so far.
type Responder func(ctx context.Context, speaker types.Participant, history []types.Message) (*types.Message, error)

// ChatStatus is the outcome of a chat run.
type ChatStatus string

const (
	// ChatCompleted means a termination condition ended the chat.
	ChatCompleted ChatStatus = "completed"
	// ChatFailed means a participant or the selector failed mid-chat.
	ChatFailed ChatStatus = "failed"
)

// Result is the outcome of one chat run. On failure Messages still holds
// the partial transcript up to the failing round.
type Result struct {
	Status   ChatStatus      `json:"status"`
	Messages []types.Message `json:"messages"`
	Rounds   int             `json:"rounds"`
	Reason   string          `json:"reason,omitempty"`
}

// Config assembles a chat. Selector defaults to round robin; at least one
// termination condition is required so the chat cannot run unbounded.
type Config struct {
	Participants []types.Participant
	Selector     SpeakerSelector
	Termination  []TerminationCondition
	Responder    Responder
	Logger       *zap.Logger
}

// Chat is a moderated multi-participant conversation.
type Chat struct {
	participants []types.Participant
	selector     SpeakerSelector
	conditions   []TerminationCondition
	responder    Responder
	logger       *zap.Logger
}

func NewChat(cfg Config) (*Chat, error) {
	if len(cfg.Participants) == 0 {
		return nil, types.NewError(types.ErrValidation, "chat requires at least one participant")
	}
	if cfg.Responder == nil {
		return nil, types.NewError(types.ErrValidation, "chat requires a responder")
	}
	if len(cfg.Termination) == 0 {
		return nil, types.NewError(types.ErrValidation, "chat requires at least one termination condition")
	}
	selector := cfg.Selector
	if selector == nil {
		selector = RoundRobinSelector{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{
		participants: cfg.Participants,
		selector:     selector,
		conditions:   cfg.Termination,
		responder:    cfg.Responder,
		logger:       logger.With(zap.String("component", "groupchat")),
	}, nil
}

// Run drives the chat until a termination condition fires. Each round the
// selector picks a speaker, the responder produces that speaker's message,
// and every condition is re-checked. A responder or selector error fails
// the chat; the partial transcript is preserved in the returned result.
func (c *Chat) Run(ctx context.Context, opening *types.Message) (*Result, error) {
	state := &ChatState{StartedAt: time.Now()}
	if opening != nil {
		state.Messages = append(state.Messages, *opening)
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.failed(state), types.NewError(types.ErrCancelled, "chat cancelled").WithCause(err)
		}
		if stop, reason := anyOf(c.conditions, state); stop {
			c.logger.Info("chat completed",
				zap.Int("rounds", state.Round),
				zap.String("reason", reason),
			)
			return &Result{
				Status:   ChatCompleted,
				Messages: state.Messages,
				Rounds:   state.Round,
				Reason:   reason,
			}, nil
		}

		speaker, err := c.selector.Select(ctx, state.Round, c.participants, state.Messages)
		if err != nil {
			c.logger.Warn("speaker selection failed", zap.Int("round", state.Round), zap.Error(err))
			return c.failed(state), err
		}

		msg, err := c.responder(ctx, speaker, state.Messages)
		if err != nil {
			c.logger.Warn("participant failed",
				zap.Int("round", state.Round),
				zap.String("speaker", speaker.ID),
				zap.Error(err),
			)
			return c.failed(state), types.NewErrorf(types.ErrNodeExecution,
				"participant %s failed in round %d", speaker.ID, state.Round).WithCause(err)
		}
		if msg.From == "" {
			msg.From = speaker.ID
		}
		state.Messages = append(state.Messages, *msg)
		state.Round++
	}
}

func (c *Chat) failed(state *ChatState) *Result {
	return &Result{
		Status:   ChatFailed,
		Messages: state.Messages,
		Rounds:   state.Round,
	}
}
