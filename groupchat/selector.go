// Package groupchat runs moderated multi-participant conversations: a
// speaker selection strategy picks who talks each round, and a set of
// termination conditions, combined with OR, decides when the chat ends.
package groupchat

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// SpeakerSelector picks the next speaker for a round. Implementations must
// be deterministic given the same inputs unless randomness is the point.
type SpeakerSelector interface {
	Select(ctx context.Context, round int, participants []types.Participant, history []types.Message) (types.Participant, error)
}

// SelectorFunc adapts a function to the SpeakerSelector interface.
type SelectorFunc func(ctx context.Context, round int, participants []types.Participant, history []types.Message) (types.Participant, error)

func (f SelectorFunc) Select(ctx context.Context, round int, participants []types.Participant, history []types.Message) (types.Participant, error) {
	return f(ctx, round, participants, history)
}

func noParticipants() error {
	return types.NewError(types.ErrRouting, "no participants to select from")
}

// RoundRobinSelector cycles through participants in their declared order:
// round r goes to participant r mod n.
type RoundRobinSelector struct{}

func (RoundRobinSelector) Select(_ context.Context, round int, participants []types.Participant, _ []types.Message) (types.Participant, error) {
	if len(participants) == 0 {
		return types.Participant{}, noParticipants()
	}
	return participants[round%len(participants)], nil
}

// RandomSelector picks uniformly. A nil source falls back to the global
// generator; tests inject a seeded one.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSelector(rng *rand.Rand) *RandomSelector {
	return &RandomSelector{rng: rng}
}

func (s *RandomSelector) Select(_ context.Context, _ int, participants []types.Participant, _ []types.Message) (types.Participant, error) {
	if len(participants) == 0 {
		return types.Participant{}, noParticipants()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng != nil {
		return participants[s.rng.Intn(len(participants))], nil
	}
	return participants[rand.Intn(len(participants))], nil
}

// PrioritySelector always picks the highest-priority participant, ties
// broken by declared order.
type PrioritySelector struct{}

func (PrioritySelector) Select(_ context.Context, _ int, participants []types.Participant, _ []types.Message) (types.Participant, error) {
	if len(participants) == 0 {
		return types.Participant{}, noParticipants()
	}
	best := participants[0]
	for _, p := range participants[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, nil
}

// ExpertiseSelector scores each participant's capabilities against the
// latest message and picks the best match. Synonyms extend a capability
// with extra trigger words. Below Threshold the selector falls back to
// round robin so the chat never stalls on an off-topic message.
type ExpertiseSelector struct {
	// Synonyms maps a capability to alternative words that also count as
	// a mention of it.
	Synonyms map[string][]string
	// Threshold is the minimum score required to pick by expertise.
	// Zero means any positive score qualifies.
	Threshold int
}

func (s *ExpertiseSelector) Select(ctx context.Context, round int, participants []types.Participant, history []types.Message) (types.Participant, error) {
	if len(participants) == 0 {
		return types.Participant{}, noParticipants()
	}
	if len(history) == 0 {
		return RoundRobinSelector{}.Select(ctx, round, participants, history)
	}

	text := strings.ToLower(history[len(history)-1].Content)
	bestScore := 0
	best := -1
	for i, p := range participants {
		score := s.score(text, p)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	minimum := s.Threshold
	if minimum <= 0 {
		minimum = 1
	}
	if best < 0 || bestScore < minimum {
		return RoundRobinSelector{}.Select(ctx, round, participants, history)
	}
	return participants[best], nil
}

func (s *ExpertiseSelector) score(text string, p types.Participant) int {
	score := 0
	for _, cap := range p.Capabilities {
		if strings.Contains(text, strings.ToLower(cap)) {
			score += 2
		}
		for _, syn := range s.Synonyms[cap] {
			if strings.Contains(text, strings.ToLower(syn)) {
				score++
			}
		}
	}
	return score
}

// byPriorityThenOrder resolves ties among equally scored candidates:
// higher priority first, then the earlier candidate in declared order.
func byPriorityThenOrder(candidates []types.Participant, scores map[string]float64) types.Participant {
	idx := make(map[string]int, len(candidates))
	for i, c := range candidates {
		idx[c.ID] = i
	}
	sorted := make([]types.Participant, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := scores[sorted[i].ID], scores[sorted[j].ID]
		if si != sj {
			return si > sj
		}
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return idx[sorted[i].ID] < idx[sorted[j].ID]
	})
	return sorted[0]
}
