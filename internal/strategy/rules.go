package strategy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"sensextrader/internal/market"
	"sensextrader/internal/signal"
)

// Rule is one price trigger from a YAML rules file:
//
//	rules:
//	  - symbol: RELIANCE
//	    when: "price > 2550"
//	    then: BUY
//	    confidence: 0.8
//
// A rule fires at most once per session; re-arming requires a restart or a
// day rollover via Reset.
type Rule struct {
	Symbol     string  `yaml:"symbol"`
	When       string  `yaml:"when"`
	Then       string  `yaml:"then"`
	Confidence float64 `yaml:"confidence"`
	Strength   float64 `yaml:"strength"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// condition is a parsed "price OP level" clause.
type condition struct {
	above bool
	level float64
}

func parseCondition(when string) (condition, error) {
	fields := strings.Fields(when)
	if len(fields) != 3 || fields[0] != "price" {
		return condition{}, fmt.Errorf("rule condition %q: want \"price <|> LEVEL\"", when)
	}
	level, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("rule condition %q: bad level: %w", when, err)
	}
	switch fields[1] {
	case ">", ">=":
		return condition{above: true, level: level}, nil
	case "<", "<=":
		return condition{above: false, level: level}, nil
	}
	return condition{}, fmt.Errorf("rule condition %q: unknown operator %q", when, fields[1])
}

type armedRule struct {
	rule  Rule
	cond  condition
	dir   signal.Direction
	fired bool
}

// Rules evaluates a fixed set of price triggers against each quote.
type Rules struct {
	stopPct   float64
	targetPct float64

	mu    sync.Mutex
	rules []*armedRule
}

// LoadRules parses the YAML rules file and validates every rule up front,
// failing fast on a malformed file rather than mid-session.
func LoadRules(path string, cfg Config) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}

	r := &Rules{stopPct: cfg.StopLossPct, targetPct: cfg.TargetPct}
	for i, rule := range f.Rules {
		cond, err := parseCondition(rule.When)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		dir := signal.Direction(strings.ToUpper(rule.Then))
		if !dir.Valid() {
			return nil, fmt.Errorf("rule %d: unknown action %q", i, rule.Then)
		}
		if rule.Symbol == "" {
			return nil, fmt.Errorf("rule %d: missing symbol", i)
		}
		r.rules = append(r.rules, &armedRule{rule: rule, cond: cond, dir: dir})
	}
	return r, nil
}

func (r *Rules) Name() string { return "rules" }

func (r *Rules) OnQuote(q market.Quote) *signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ar := range r.rules {
		if ar.fired || !strings.EqualFold(ar.rule.Symbol, q.Symbol) {
			continue
		}
		if ar.cond.above && q.Price <= ar.cond.level {
			continue
		}
		if !ar.cond.above && q.Price >= ar.cond.level {
			continue
		}
		ar.fired = true

		confidence := ar.rule.Confidence
		if confidence <= 0 {
			confidence = 0.75
		}
		strength := ar.rule.Strength
		if strength <= 0 {
			strength = 0.5
		}
		stop, target := exitLevels(q.Price, ar.dir.BuySide(), r.stopPct, r.targetPct)
		return &signal.Signal{
			Asset:      q.Symbol,
			AssetType:  signal.Stock,
			Direction:  ar.dir,
			Entry:      q.Price,
			Stop:       stop,
			Target:     target,
			Confidence: confidence,
			Strength:   strength,
			Strategy:   r.Name(),
			At:         q.Time,
		}
	}
	return nil
}

// Reset re-arms every rule at the day rollover.
func (r *Rules) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ar := range r.rules {
		ar.fired = false
	}
}
