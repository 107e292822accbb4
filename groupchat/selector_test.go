package groupchat

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/types"
)

func history(entries ...types.Message) []types.Message { return entries }

func TestRoundRobinSelector(t *testing.T) {
	t.Parallel()

	ps := participants("a", "b", "c")
	s := RoundRobinSelector{}
	for round := 0; round < 7; round++ {
		p, err := s.Select(context.Background(), round, ps, nil)
		require.NoError(t, err)
		assert.Equal(t, ps[round%3].ID, p.ID)
	}

	_, err := s.Select(context.Background(), 0, nil, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRouting))
}

func TestRandomSelectorStaysInSlate(t *testing.T) {
	t.Parallel()

	ps := participants("a", "b", "c")
	s := NewRandomSelector(rand.New(rand.NewSource(42)))
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		p, err := s.Select(context.Background(), i, ps, nil)
		require.NoError(t, err)
		seen[p.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestPrioritySelector(t *testing.T) {
	t.Parallel()

	ps := []types.Participant{
		{ID: "low", Priority: 1},
		{ID: "high", Priority: 9},
		{ID: "mid", Priority: 5},
		{ID: "high_too", Priority: 9},
	}
	p, err := PrioritySelector{}.Select(context.Background(), 0, ps, nil)
	require.NoError(t, err)
	// Ties go to the earlier declaration.
	assert.Equal(t, "high", p.ID)
}

func TestExpertiseSelectorMatchesCapability(t *testing.T) {
	t.Parallel()

	ps := []types.Participant{
		{ID: "biller", Capabilities: []string{"billing"}},
		{ID: "shipper", Capabilities: []string{"shipping"}},
	}
	s := &ExpertiseSelector{Synonyms: map[string][]string{
		"billing":  {"invoice", "charge"},
		"shipping": {"parcel", "delivery"},
	}}

	p, err := s.Select(context.Background(), 0, ps,
		history(types.NewMessage("user", "", "my invoice shows a double charge")))
	require.NoError(t, err)
	assert.Equal(t, "biller", p.ID)

	p, err = s.Select(context.Background(), 0, ps,
		history(types.NewMessage("user", "", "where is my parcel?")))
	require.NoError(t, err)
	assert.Equal(t, "shipper", p.ID)
}

func TestExpertiseSelectorFallsBackToRoundRobin(t *testing.T) {
	t.Parallel()

	ps := []types.Participant{
		{ID: "biller", Capabilities: []string{"billing"}},
		{ID: "shipper", Capabilities: []string{"shipping"}},
	}
	s := &ExpertiseSelector{}

	// Off-topic message: nobody scores, round decides.
	msg := types.NewMessage("user", "", "how is the weather")
	p, err := s.Select(context.Background(), 0, ps, history(msg))
	require.NoError(t, err)
	assert.Equal(t, "biller", p.ID)

	p, err = s.Select(context.Background(), 1, ps, history(msg))
	require.NoError(t, err)
	assert.Equal(t, "shipper", p.ID)

	// No history at all also falls back.
	p, err = s.Select(context.Background(), 0, ps, nil)
	require.NoError(t, err)
	assert.Equal(t, "biller", p.ID)
}

func TestExpertiseSelectorThreshold(t *testing.T) {
	t.Parallel()

	ps := []types.Participant{
		{ID: "biller", Capabilities: []string{"billing"}},
		{ID: "other"},
	}
	s := &ExpertiseSelector{
		Synonyms:  map[string][]string{"billing": {"invoice"}},
		Threshold: 3,
	}

	// One synonym hit scores 1, below the threshold of 3.
	p, err := s.Select(context.Background(), 1, ps,
		history(types.NewMessage("user", "", "about my invoice")))
	require.NoError(t, err)
	assert.Equal(t, "other", p.ID)

	// Capability mention plus synonym scores 3 and clears it.
	p, err = s.Select(context.Background(), 1, ps,
		history(types.NewMessage("user", "", "billing problem on this invoice")))
	require.NoError(t, err)
	assert.Equal(t, "biller", p.ID)
}
