package strategy

import (
	"math"
	"strings"
	"testing"

	"autostock/internal/config"
	"autostock/internal/domain"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("SMA returned %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSMA_ShortInput(t *testing.T) {
	if got := SMA([]float64{1, 2}, 3); got != nil {
		t.Errorf("SMA on short input = %v, want nil", got)
	}
	if got := SMA([]float64{1, 2, 3}, 0); got != nil {
		t.Errorf("SMA with zero window = %v, want nil", got)
	}
}

func TestCrossoverBuy(t *testing.T) {
	sig, err := Crossover([]float64{3, 2, 1, 2, 3}, 2, 3)
	if err != nil {
		t.Fatalf("Crossover returned error: %v", err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("Crossover = %v, want %v", sig, domain.SignalBuy)
	}
}

func TestCrossoverSell(t *testing.T) {
	sig, err := Crossover([]float64{1, 2, 3, 2, 1}, 2, 3)
	if err != nil {
		t.Fatalf("Crossover returned error: %v", err)
	}
	if sig != domain.SignalSell {
		t.Errorf("Crossover = %v, want %v", sig, domain.SignalSell)
	}
}

func TestCrossover_ShortSeriesHolds(t *testing.T) {
	sig, err := Crossover([]float64{1, 2, 3}, 2, 3)
	if err != nil {
		t.Fatalf("Crossover returned error: %v", err)
	}
	if sig != domain.SignalHold {
		t.Errorf("Crossover on short series = %v, want %v", sig, domain.SignalHold)
	}
}

// A flat series keeps the averages exactly equal; equality on the current
// sample must not count as a cross.
func TestCrossover_EqualityIsNotACross(t *testing.T) {
	sig, err := Crossover([]float64{5, 5, 5, 5, 5, 5}, 2, 3)
	if err != nil {
		t.Fatalf("Crossover returned error: %v", err)
	}
	if sig != domain.SignalHold {
		t.Errorf("Crossover on flat series = %v, want %v", sig, domain.SignalHold)
	}
}

func TestCrossover_InvalidWindows(t *testing.T) {
	if _, err := Crossover([]float64{1, 2, 3, 4, 5}, 3, 3); err == nil {
		t.Error("Crossover accepted short_window >= long_window")
	}
	if _, err := Crossover([]float64{1, 2, 3, 4, 5}, 0, 3); err == nil {
		t.Error("Crossover accepted non-positive short_window")
	}
}

func TestRSIBuyOnFall(t *testing.T) {
	sig, err := RSI([]float64{10, 9, 8, 7}, config.RSIConfig{Window: 3, Oversold: 30, Overbought: 70})
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("RSI on falling series = %v, want %v", sig, domain.SignalBuy)
	}

	// Production window size: strictly decreasing closes pin RSI at 0.
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(100 - i)
	}
	sig, err = RSI(closes, config.RSIConfig{Window: 14, Oversold: 30, Overbought: 70})
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("RSI window 14 on falling series = %v, want %v", sig, domain.SignalBuy)
	}
}

// With no losses in the window the average loss is zero and RSI pins at 100.
func TestRSISellOnRise(t *testing.T) {
	sig, err := RSI([]float64{7, 8, 9, 10}, config.RSIConfig{Window: 3, Oversold: 30, Overbought: 70})
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	if sig != domain.SignalSell {
		t.Errorf("RSI on rising series = %v, want %v", sig, domain.SignalSell)
	}
}

func TestRSIHoldInBand(t *testing.T) {
	// Changes +1, -2, +1: equal average gain and loss, RSI = 50.
	sig, err := RSI([]float64{10, 11, 9, 10}, config.RSIConfig{Window: 3, Oversold: 30, Overbought: 70})
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	if sig != domain.SignalHold {
		t.Errorf("RSI = %v, want %v", sig, domain.SignalHold)
	}
}

func TestRSI_ShortSeriesHolds(t *testing.T) {
	sig, err := RSI([]float64{10, 9}, config.RSIConfig{Window: 3, Oversold: 30, Overbought: 70})
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	if sig != domain.SignalHold {
		t.Errorf("RSI on short series = %v, want %v", sig, domain.SignalHold)
	}
}

func TestRSI_InvalidWindow(t *testing.T) {
	if _, err := RSI([]float64{1, 2, 3}, config.RSIConfig{Window: 0}); err == nil {
		t.Error("RSI accepted non-positive window")
	}
}

// ---------------------------------------------------------------------------
// Combination modes
// ---------------------------------------------------------------------------

func votes(sigs ...domain.Signal) []domain.Vote {
	names := []string{"ma", "rsi", "extra"}
	out := make([]domain.Vote, len(sigs))
	for i, s := range sigs {
		out[i] = domain.Vote{Name: names[i], Signal: s, Weight: 1.0}
	}
	return out
}

func TestCombineNoVotes(t *testing.T) {
	sig, reason := Combine(nil, config.ComboConfig{CombinationMode: config.ComboWeighted})
	if sig != domain.SignalHold {
		t.Errorf("Combine = %v, want %v", sig, domain.SignalHold)
	}
	if reason != "no_enabled_strategy" {
		t.Errorf("Combine reason = %q, want %q", reason, "no_enabled_strategy")
	}
}

func TestCombinePriority(t *testing.T) {
	combo := config.ComboConfig{CombinationMode: config.ComboPriority}
	sig, reason := Combine(votes(domain.SignalHold, domain.SignalSell), combo)
	if sig != domain.SignalSell {
		t.Errorf("Combine = %v, want %v", sig, domain.SignalSell)
	}
	if reason != "priority:rsi" {
		t.Errorf("Combine reason = %q, want %q", reason, "priority:rsi")
	}
}

func TestCombineUnanimous(t *testing.T) {
	combo := config.ComboConfig{CombinationMode: config.ComboUnanimous}

	sig, _ := Combine(votes(domain.SignalBuy, domain.SignalBuy), combo)
	if sig != domain.SignalBuy {
		t.Errorf("unanimous buy = %v, want %v", sig, domain.SignalBuy)
	}

	sig, reason := Combine(votes(domain.SignalBuy, domain.SignalSell), combo)
	if sig != domain.SignalHold {
		t.Errorf("conflicting votes = %v, want %v", sig, domain.SignalHold)
	}
	if reason != "unanimous:conflict" {
		t.Errorf("conflict reason = %q, want %q", reason, "unanimous:conflict")
	}

	// A partial quorum (one BUY, one HOLD) is a conflict, not a BUY.
	sig, _ = Combine(votes(domain.SignalBuy, domain.SignalHold), combo)
	if sig != domain.SignalHold {
		t.Errorf("partial quorum = %v, want %v", sig, domain.SignalHold)
	}
}

func TestCombineVote(t *testing.T) {
	combo := config.ComboConfig{CombinationMode: config.ComboVote}

	sig, reason := Combine(votes(domain.SignalBuy, domain.SignalBuy, domain.SignalSell), combo)
	if sig != domain.SignalBuy {
		t.Errorf("majority vote = %v, want %v", sig, domain.SignalBuy)
	}
	if reason != "vote:2-1" {
		t.Errorf("vote reason = %q, want %q", reason, "vote:2-1")
	}

	sig, _ = Combine(votes(domain.SignalBuy, domain.SignalSell), combo)
	if sig != domain.SignalHold {
		t.Errorf("tied vote = %v, want %v", sig, domain.SignalHold)
	}
}

func TestCombineWeighted(t *testing.T) {
	combo := config.ComboConfig{CombinationMode: config.ComboWeighted, DecisionThreshold: 0.2}
	vs := []domain.Vote{
		{Name: "ma", Signal: domain.SignalBuy, Weight: 0.7},
		{Name: "rsi", Signal: domain.SignalSell, Weight: 0.3},
	}

	sig, reason := Combine(vs, combo)
	if sig != domain.SignalBuy {
		t.Errorf("weighted = %v, want %v", sig, domain.SignalBuy)
	}
	if reason != "weighted:0.400" {
		t.Errorf("weighted reason = %q, want %q", reason, "weighted:0.400")
	}

	// Score within the threshold band holds.
	combo.DecisionThreshold = 0.5
	sig, _ = Combine(vs, combo)
	if sig != domain.SignalHold {
		t.Errorf("weighted within threshold = %v, want %v", sig, domain.SignalHold)
	}
}

// A HOLD vote contributes nothing to the score: 0.7 buy weight alone clears
// a 0.2 threshold.
func TestCombineWeighted_HoldVoteIsNeutral(t *testing.T) {
	combo := config.ComboConfig{CombinationMode: config.ComboWeighted, DecisionThreshold: 0.2}
	vs := []domain.Vote{
		{Name: "ma", Signal: domain.SignalBuy, Weight: 0.7},
		{Name: "rsi", Signal: domain.SignalHold, Weight: 0.3},
	}
	sig, reason := Combine(vs, combo)
	if sig != domain.SignalBuy {
		t.Errorf("weighted = %v, want %v", sig, domain.SignalBuy)
	}
	if reason != "weighted:0.700" {
		t.Errorf("weighted reason = %q, want %q", reason, "weighted:0.700")
	}
}

func TestEvaluateExplanation(t *testing.T) {
	strat := config.StrategyConfig{ShortWindow: 2, LongWindow: 3}
	combo := config.ComboConfig{
		EnabledStrategies: []string{"ma"},
		CombinationMode:   config.ComboWeighted,
		DecisionThreshold: 0.2,
		Weights:           map[string]float64{"ma": 0.7},
	}

	sig, explanation, err := Evaluate([]float64{3, 2, 1, 2, 3}, strat, combo)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig != domain.SignalBuy {
		t.Errorf("Evaluate = %v, want %v", sig, domain.SignalBuy)
	}
	want := "weighted:0.700|ma:BUY:0.7"
	if explanation != want {
		t.Errorf("Evaluate explanation = %q, want %q", explanation, want)
	}
}

func TestEvaluate_NoStrategies(t *testing.T) {
	strat := config.StrategyConfig{ShortWindow: 2, LongWindow: 3}
	combo := config.ComboConfig{CombinationMode: config.ComboWeighted}

	sig, explanation, err := Evaluate([]float64{1, 2, 3, 4, 5}, strat, combo)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig != domain.SignalHold {
		t.Errorf("Evaluate = %v, want %v", sig, domain.SignalHold)
	}
	if !strings.HasSuffix(explanation, "|none") {
		t.Errorf("Evaluate explanation = %q, want suffix %q", explanation, "|none")
	}
}

func TestGenerateVotes_ConfigOrder(t *testing.T) {
	strat := config.StrategyConfig{ShortWindow: 2, LongWindow: 3}
	combo := config.ComboConfig{
		EnabledStrategies: []string{"rsi", "ma"},
		RSI:               config.RSIConfig{Window: 3, Oversold: 30, Overbought: 70},
	}

	vs, err := GenerateVotes([]float64{3, 2, 1, 2, 3}, strat, combo)
	if err != nil {
		t.Fatalf("GenerateVotes returned error: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("GenerateVotes returned %d votes, want 2", len(vs))
	}
	if vs[0].Name != "rsi" || vs[1].Name != "ma" {
		t.Errorf("vote order = [%s %s], want [rsi ma]", vs[0].Name, vs[1].Name)
	}
}
