package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/registry"
	"github.com/BaSui01/agentgraph/types"
)

// Policy decides when a matched handoff actually happens.
type Policy string

const (
	// PolicyImmediate transfers as soon as a target is matched.
	PolicyImmediate Policy = "immediate"
	// PolicyGraceful asks the target to confirm before transferring; a
	// declined confirmation fails the handoff.
	PolicyGraceful Policy = "graceful"
	// PolicyConditional transfers only when the configured condition
	// holds for the request; otherwise no handoff occurs.
	PolicyConditional Policy = "conditional"
)

// Request describes one desired handoff.
type Request struct {
	From      string          `json:"from"`
	Reason    string          `json:"reason,omitempty"`
	Required  []string        `json:"required,omitempty"`
	Variables map[string]any  `json:"variables,omitempty"`
	Messages  []types.Message `json:"messages,omitempty"`
	// Filter names the variables that survive TransferFiltered.
	Filter []string `json:"filter,omitempty"`
}

// Record is the durable account of one handoff attempt.
type Record struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Reason    string          `json:"reason,omitempty"`
	Policy    Policy          `json:"policy"`
	Mode      TransferMode    `json:"mode"`
	Variables map[string]any  `json:"variables,omitempty"`
	Messages  []types.Message `json:"messages,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Confirmer obtains the target's consent for a graceful handoff.
type Confirmer func(ctx context.Context, target types.Participant, req Request) (bool, error)

// Condition gates a conditional handoff.
type Condition func(req Request) bool

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithMatcher(m Matcher) Option {
	return func(c *Coordinator) { c.matcher = m }
}

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithTransferMode(m TransferMode) Option {
	return func(c *Coordinator) { c.mode = m }
}

func WithConfirmer(f Confirmer) Option {
	return func(c *Coordinator) { c.confirmer = f }
}

func WithCondition(f Condition) Option {
	return func(c *Coordinator) { c.condition = f }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator routes handoffs through a participant registry. Defaults:
// best-fit matching, immediate policy, full context transfer.
type Coordinator struct {
	registry  registry.Registry
	matcher   Matcher
	policy    Policy
	mode      TransferMode
	confirmer Confirmer
	condition Condition
	logger    *zap.Logger

	mu      sync.Mutex
	records []Record
}

func NewCoordinator(reg registry.Registry, opts ...Option) (*Coordinator, error) {
	if reg == nil {
		return nil, types.NewError(types.ErrValidation, "coordinator requires a registry")
	}
	c := &Coordinator{
		registry: reg,
		matcher:  BestFitMatcher{},
		policy:   PolicyImmediate,
		mode:     TransferFull,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == PolicyGraceful && c.confirmer == nil {
		return nil, types.NewError(types.ErrValidation, "graceful policy requires a confirmer")
	}
	if c.policy == PolicyConditional && c.condition == nil {
		return nil, types.NewError(types.ErrValidation, "conditional policy requires a condition")
	}
	c.logger = c.logger.With(zap.String("component", "handoff"))
	return c, nil
}

// Execute performs one handoff. It returns the record of the completed
// transfer, or nil with no error when a conditional policy decides no
// handoff is needed. The source itself is never a candidate. The target's
// load counter is incremented; callers release it with Release when the
// transferred work finishes.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Record, error) {
	if c.policy == PolicyConditional && !c.condition(req) {
		c.logger.Debug("handoff condition not met", zap.String("from", req.From))
		return nil, nil
	}

	qualified, err := c.registry.FindByCapabilities(ctx, req.Required)
	if err != nil {
		return nil, err
	}
	candidates := qualified[:0:0]
	for _, p := range qualified {
		if p.ID != req.From {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, noCandidates()
	}

	target, err := c.matcher.Match(ctx, req.Required, candidates)
	if err != nil {
		return nil, err
	}

	if c.policy == PolicyGraceful {
		ok, err := c.confirmer(ctx, target, req)
		if err != nil {
			return nil, types.NewErrorf(types.ErrRouting,
				"handoff confirmation failed for %s", target.ID).WithCause(err)
		}
		if !ok {
			return nil, types.NewErrorf(types.ErrRouting,
				"handoff declined by %s", target.ID)
		}
	}

	vars, msgs := buildTransfer(c.mode, req)
	rec := Record{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        target.ID,
		Reason:    req.Reason,
		Policy:    c.policy,
		Mode:      c.mode,
		Variables: vars,
		Messages:  msgs,
		CreatedAt: time.Now(),
	}

	if err := c.registry.IncrementLoad(ctx, target.ID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()

	c.logger.Info("handoff completed",
		zap.String("from", rec.From),
		zap.String("to", rec.To),
		zap.String("policy", string(rec.Policy)),
		zap.String("mode", string(rec.Mode)),
	)
	return &rec, nil
}

// Release drops the load acquired for a completed handoff target.
func (c *Coordinator) Release(ctx context.Context, targetID string) error {
	return c.registry.DecrementLoad(ctx, targetID)
}

// History returns the records of completed handoffs, oldest first.
func (c *Coordinator) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}
