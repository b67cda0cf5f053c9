package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"autostock/internal/config"
	"autostock/internal/domain"
)

// GenerateVotes runs every enabled sub-strategy over the close series and
// collects their votes in configuration order. Sub-strategy parameter errors
// surface here; config.Validate catches them before any run starts, so a
// non-nil error at this point means the caller skipped validation.
func GenerateVotes(closes []float64, strat config.StrategyConfig, combo config.ComboConfig) ([]domain.Vote, error) {
	var votes []domain.Vote
	for _, name := range combo.EnabledStrategies {
		switch name {
		case "ma":
			sig, err := Crossover(closes, strat.ShortWindow, strat.LongWindow)
			if err != nil {
				return nil, err
			}
			votes = append(votes, domain.Vote{Name: "ma", Signal: sig, Weight: combo.Weight("ma"), Reason: "ma_crossover"})
		case "rsi":
			sig, err := RSI(closes, combo.RSI)
			if err != nil {
				return nil, err
			}
			votes = append(votes, domain.Vote{Name: "rsi", Signal: sig, Weight: combo.Weight("rsi"), Reason: "rsi_threshold"})
		}
	}
	return votes, nil
}

// Combine reduces strategy votes to one signal under the configured
// combination mode, returning the decision and a short rationale.
func Combine(votes []domain.Vote, combo config.ComboConfig) (domain.Signal, string) {
	if len(votes) == 0 {
		return domain.SignalHold, "no_enabled_strategy"
	}

	switch combo.CombinationMode {
	case config.ComboPriority:
		// First non-HOLD vote in config order wins.
		for _, v := range votes {
			if v.Signal != domain.SignalHold {
				return v.Signal, "priority:" + v.Name
			}
		}
		return domain.SignalHold, "priority:all_hold"

	case config.ComboUnanimous:
		// Every enabled strategy must agree; a partial quorum is a conflict.
		nonHold := 0
		buys := 0
		sells := 0
		for _, v := range votes {
			switch v.Signal {
			case domain.SignalBuy:
				nonHold++
				buys++
			case domain.SignalSell:
				nonHold++
				sells++
			}
		}
		if nonHold == 0 {
			return domain.SignalHold, "unanimous:all_hold"
		}
		if buys == len(votes) {
			return domain.SignalBuy, "unanimous:buy"
		}
		if sells == len(votes) {
			return domain.SignalSell, "unanimous:sell"
		}
		return domain.SignalHold, "unanimous:conflict"

	case config.ComboVote:
		buys := 0
		sells := 0
		for _, v := range votes {
			switch v.Signal {
			case domain.SignalBuy:
				buys++
			case domain.SignalSell:
				sells++
			}
		}
		if buys > sells {
			return domain.SignalBuy, fmt.Sprintf("vote:%d-%d", buys, sells)
		}
		if sells > buys {
			return domain.SignalSell, fmt.Sprintf("vote:%d-%d", buys, sells)
		}
		return domain.SignalHold, fmt.Sprintf("vote:tied:%d-%d", buys, sells)
	}

	// Weighted (default): sum of signed weights against the threshold.
	score := 0.0
	for _, v := range votes {
		switch v.Signal {
		case domain.SignalBuy:
			score += v.Weight
		case domain.SignalSell:
			score -= v.Weight
		}
	}
	reason := fmt.Sprintf("weighted:%.3f", score)
	if score > combo.DecisionThreshold {
		return domain.SignalBuy, reason
	}
	if score < -combo.DecisionThreshold {
		return domain.SignalSell, reason
	}
	return domain.SignalHold, reason
}

// Evaluate runs the full signal engine over a close series: generate votes,
// combine them, and build the deterministic explanation string
// "<decision>|<name:signal:weight,...>" that order and execution logs carry.
func Evaluate(closes []float64, strat config.StrategyConfig, combo config.ComboConfig) (domain.Signal, string, error) {
	votes, err := GenerateVotes(closes, strat, combo)
	if err != nil {
		return domain.SignalHold, "", err
	}
	signal, reason := Combine(votes, combo)

	parts := make([]string, 0, len(votes))
	for _, v := range votes {
		parts = append(parts, v.Name+":"+string(v.Signal)+":"+strconv.FormatFloat(v.Weight, 'g', -1, 64))
	}
	detail := "none"
	if len(parts) > 0 {
		detail = strings.Join(parts, ",")
	}
	return signal, reason + "|" + detail, nil
}
