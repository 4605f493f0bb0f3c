package scorer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nimtier/tiermem/scorer"
)

func TestIngestion_ScenarioOne(t *testing.T) {
	// spec.md §8 scenario 1: emotionalValue=0.95, contextRelevance=0.9,
	// freshly created (age ~ 0), no prior accesses.
	p := scorer.DefaultParams()
	got := scorer.Ingestion(scorer.IngestionInput{
		AgeSeconds:       0,
		EmotionalValue:   0.95,
		ContextRelevance: 0.9,
		AccessCount:      0,
	}, p)
	assert.InDelta(t, 0.765, got, 0.005)
}

func TestCurrent_ScenarioOne_PromotesToCore(t *testing.T) {
	p := scorer.DefaultParams()
	got := scorer.Current(scorer.CurrentInput{
		BaseImportance:   0.765,
		AgeSeconds:       0,
		AccessCount:      60,
		ContextRelevance: 0.9,
	}, p)
	// 0.4*0.765 + 0.3*1 + 0.2*0.6 + 0.1*0.9 = 0.306+0.3+0.12+0.09 = 0.816
	assert.GreaterOrEqual(t, got, 0.8)
}

func TestScores_AreClamped(t *testing.T) {
	p := scorer.DefaultParams()
	got := scorer.Ingestion(scorer.IngestionInput{
		AgeSeconds:       -100, // malformed input should not escape [0,1]
		EmotionalValue:   5,
		ContextRelevance: 5,
		AccessCount:      1_000_000,
	}, p)
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestRecency_Monotonic(t *testing.T) {
	p := scorer.DefaultParams()
	near := scorer.Recency(0, p)
	far := scorer.Recency(365*24*60*60, p)
	assert.Greater(t, near, far)
	assert.InDelta(t, 1.0, near, 1e-9)
}

func TestAccessFrequency_Saturates(t *testing.T) {
	p := scorer.DefaultParams()
	assert.Equal(t, 1.0, scorer.AccessFrequency(1000, p))
	assert.Equal(t, 0.5, scorer.AccessFrequency(50, p))
}
