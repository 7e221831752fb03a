package patrimoine

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

// Registry holds all known parsers and drives strategy dispatch. It is owned
// by the Normalizer and passed explicitly, never a process-wide singleton.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser to the registry, keyed by its strategy name.
// Re-registering the same name overwrites the previous parser with a warning.
func (r *Registry) Register(p Parser) {
	name := p.StrategyName()
	if _, exists := r.parsers[name]; exists {
		log.Printf("parser %q already registered, overwriting", name)
	}
	r.parsers[name] = p
}

// Get returns the parser registered under the given strategy name.
func (r *Registry) Get(strategy string) (Parser, error) {
	p, ok := r.parsers[strategy]
	if !ok {
		return nil, &UnknownStrategyError{Strategy: strategy, Available: r.Strategies()}
	}
	return p, nil
}

// Strategies returns the sorted names of all registered parsers.
func (r *Registry) Strategies() []string {
	names := slices.Collect(maps.Keys(r.parsers))
	slices.Sort(names)
	return names
}

// ByFormat returns the strategies supporting a given file format ("pdf", "csv").
func (r *Registry) ByFormat(format string) []string {
	var compatible []string
	for _, name := range r.Strategies() {
		for _, f := range r.parsers[name].SupportedFormats() {
			if strings.EqualFold(f, format) {
				compatible = append(compatible, name)
				break
			}
		}
	}
	return compatible
}

// Candidate is a parser able to handle a file, with its confidence score.
type Candidate struct {
	Strategy string
	Score    float64
}

// AutoDetect scores every registered parser against the file and returns the
// candidates with a positive score, best first. Scores are diagnostic: at
// parse time the manifest's declared strategy order is authoritative, not the
// confidence ranking. A panicking parser is skipped with a warning so one
// misbehaving implementation cannot abort detection.
func (r *Registry) AutoDetect(path string, meta AccountMetadata) []Candidate {
	var candidates []Candidate
	for _, name := range r.Strategies() {
		score := r.safeCanParse(r.parsers[name], path, meta)
		if score > 0.0 {
			candidates = append(candidates, Candidate{Strategy: name, Score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func (r *Registry) safeCanParse(p Parser, path string, meta AccountMetadata) (score float64) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("parser %q panicked in CanParse(%q): %v", p.StrategyName(), path, rec)
			score = 0.0
		}
	}()
	return p.CanParse(path, meta)
}

// ParseWithFallback tries each strategy in the given order. The first one
// whose Parse succeeds wins: its Validate anomalies are attached as warnings
// but never trigger a fallback to the next strategy, favoring some data with
// surfaced anomalies over no data at all. If every strategy fails, the
// returned *ParsingError aggregates each strategy's failure reason.
func (r *Registry) ParseWithFallback(path string, meta AccountMetadata, strategies []string) (*ParseResult, error) {
	var attempts []error
	for _, strategy := range strategies {
		parser, err := r.Get(strategy)
		if err != nil {
			attempts = append(attempts, err)
			continue
		}

		log.Printf("trying strategy %s on %q", strategy, path)
		result, err := parser.Parse(path, meta)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s: %w", strategy, err))
			continue
		}

		anomalies := parser.Validate(result)
		if len(anomalies) > 0 {
			log.Printf("strategy %s reported %d anomaly(ies) on %q: %s",
				strategy, len(anomalies), path, strings.Join(anomalies, "; "))
		}
		result.Parsing.ParserUsed = strategy
		result.Parsing.ParsedAt = time.Now().Format(time.RFC3339)
		result.Parsing.Warnings = anomalies
		return result, nil
	}

	return nil, &ParsingError{
		Path: path,
		Err:  fmt.Errorf("all %d strategies failed: %w", len(strategies), errors.Join(attempts...)),
	}
}
