package groupchat

import (
	"context"

	"github.com/BaSui01/agentgraph/types"
)

// VoteMethod selects the tally applied to collected ballots.
type VoteMethod string

const (
	// VoteMajority elects the candidate with the most first-choice votes.
	VoteMajority VoteMethod = "majority"
	// VoteUnanimous requires every voter's first choice to agree.
	VoteUnanimous VoteMethod = "unanimous"
	// VoteBorda scores ranked ballots: a rank of i among n candidates is
	// worth n-1-i points.
	VoteBorda VoteMethod = "borda"
	// VoteWeighted is first-choice voting with per-voter weights.
	VoteWeighted VoteMethod = "weighted"
	// VoteApproval elects the candidate approved by the most voters.
	VoteApproval VoteMethod = "approval"
)

// Ballot is one voter's submission. Ranking is preference order and feeds
// the majority, unanimous, weighted, and Borda tallies; Approved feeds
// approval voting.
type Ballot struct {
	Voter    string   `json:"voter"`
	Ranking  []string `json:"ranking,omitempty"`
	Approved []string `json:"approved,omitempty"`
}

// BallotFunc collects one voter's ballot over the candidate slate.
type BallotFunc func(ctx context.Context, voter types.Participant, candidates []types.Participant, history []types.Message) (Ballot, error)

// VotingSelector picks the next speaker by election: every participant
// votes over the whole slate and the configured method tallies the result.
// Ties go to the higher-priority candidate, then declared order.
type VotingSelector struct {
	Method  VoteMethod
	Ballots BallotFunc
	// Weights applies to VoteWeighted; a missing entry counts as 1.
	Weights map[string]float64
}

func (s *VotingSelector) Select(ctx context.Context, _ int, participants []types.Participant, history []types.Message) (types.Participant, error) {
	if len(participants) == 0 {
		return types.Participant{}, noParticipants()
	}
	if s.Ballots == nil {
		return types.Participant{}, types.NewError(types.ErrValidation, "voting selector has no ballot source")
	}

	ballots := make([]Ballot, 0, len(participants))
	for _, voter := range participants {
		b, err := s.Ballots(ctx, voter, participants, history)
		if err != nil {
			return types.Participant{}, types.NewErrorf(types.ErrRouting,
				"ballot collection failed for %s", voter.ID).WithCause(err)
		}
		b.Voter = voter.ID
		ballots = append(ballots, b)
	}
	return s.tally(participants, ballots)
}

func (s *VotingSelector) tally(candidates []types.Participant, ballots []Ballot) (types.Participant, error) {
	valid := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		valid[c.ID] = true
	}
	scores := make(map[string]float64, len(candidates))

	switch s.Method {
	case VoteMajority, "":
		for _, b := range ballots {
			if first := firstChoice(b, valid); first != "" {
				scores[first]++
			}
		}

	case VoteUnanimous:
		want := ""
		for _, b := range ballots {
			first := firstChoice(b, valid)
			if first == "" {
				continue
			}
			if want == "" {
				want = first
			} else if want != first {
				return types.Participant{}, types.NewError(types.ErrRouting, "no unanimous choice")
			}
		}
		if want == "" {
			return types.Participant{}, types.NewError(types.ErrRouting, "no unanimous choice")
		}
		scores[want] = 1

	case VoteBorda:
		n := len(candidates)
		for _, b := range ballots {
			rank := 0
			for _, id := range b.Ranking {
				if !valid[id] {
					continue
				}
				scores[id] += float64(n - 1 - rank)
				rank++
			}
		}

	case VoteWeighted:
		for _, b := range ballots {
			first := firstChoice(b, valid)
			if first == "" {
				continue
			}
			w, ok := s.Weights[b.Voter]
			if !ok {
				w = 1
			}
			scores[first] += w
		}

	case VoteApproval:
		for _, b := range ballots {
			for _, id := range b.Approved {
				if valid[id] {
					scores[id]++
				}
			}
		}

	default:
		return types.Participant{}, types.NewErrorf(types.ErrValidation, "unknown vote method: %s", s.Method)
	}

	if len(scores) == 0 {
		return types.Participant{}, types.NewError(types.ErrRouting, "no valid votes cast")
	}
	return byPriorityThenOrder(candidates, scores), nil
}

func firstChoice(b Ballot, valid map[string]bool) string {
	for _, id := range b.Ranking {
		if valid[id] {
			return id
		}
	}
	return ""
}
