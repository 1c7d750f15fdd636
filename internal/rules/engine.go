// Package rules provides the CEL-Go based lead qualification engine.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-voice/kestrel/internal/domain"
)

// Engine evaluates qualifier expressions against captured leads and
// rolls the per-rule scores up into a qualification tier.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledQualifier
	maxWorkers int
}

// CompiledQualifier holds a pre-compiled CEL program.
type CompiledQualifier struct {
	Config  *domain.QualifierConfig
	Program cel.Program
}

// NewEngine creates a lead qualification engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with lead variables
	env, err := cel.NewEnv(
		cel.Variable("lead", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("name", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("company", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("use_case", cel.StringType),
		cel.Variable("team_size", cel.StringType),
		cel.Variable("timeline", cel.StringType),
		cel.Variable("notes", cel.StringType),
		cel.Variable("has_company", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledQualifier),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateQualifier compiles a qualifier without loading it.
func (e *Engine) ValidateQualifier(cfg *domain.QualifierConfig) error {
	if cfg == nil {
		return fmt.Errorf("qualifier config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// LoadQualifier compiles and loads a qualifier into the engine.
func (e *Engine) LoadQualifier(cfg *domain.QualifierConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadQualifiers compiles and loads multiple qualifiers, skipping
// disabled ones.
func (e *Engine) LoadQualifiers(configs []*domain.QualifierConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadQualifier(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Qualification is the aggregate outcome for one lead.
type Qualification struct {
	Tier    string
	Score   float64
	Results []domain.QualifierResult
}

// Qualify evaluates all loaded qualifiers against a lead in parallel.
// Returns nil when no qualifiers are loaded; the caller records the
// lead unscored.
func (e *Engine) Qualify(ctx context.Context, lead *domain.Lead) (*Qualification, error) {
	e.mu.RLock()
	qualifiers := make([]*CompiledQualifier, 0, len(e.compiled))
	for _, q := range e.compiled {
		qualifiers = append(qualifiers, q)
	}
	e.mu.RUnlock()

	if len(qualifiers) == 0 {
		return nil, nil
	}

	activation := leadActivation(lead)

	// Parallel evaluation using worker pool pattern
	results := make([]domain.QualifierResult, len(qualifiers))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, q := range qualifiers {
		wg.Add(1)
		go func(idx int, cq *CompiledQualifier) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluate(cq, activation)
		}(i, q)
	}

	wg.Wait()

	return aggregate(results), nil
}

func leadActivation(lead *domain.Lead) map[string]any {
	emailDomain := ""
	if at := strings.LastIndex(lead.Email, "@"); at >= 0 {
		emailDomain = strings.ToLower(lead.Email[at+1:])
	}

	return map[string]any{
		"lead": map[string]any{
			"name":      lead.Name,
			"email":     lead.Email,
			"company":   lead.Company,
			"role":      lead.Role,
			"use_case":  lead.UseCase,
			"team_size": lead.TeamSize,
			"timeline":  lead.Timeline,
			"notes":     lead.Notes,
		},
		"name":         lead.Name,
		"email":        lead.Email,
		"email_domain": emailDomain,
		"company":      lead.Company,
		"role":         lead.Role,
		"use_case":     lead.UseCase,
		"team_size":    lead.TeamSize,
		"timeline":     lead.Timeline,
		"notes":        lead.Notes,
		"has_company":  strings.TrimSpace(lead.Company) != "",
	}
}

func (e *Engine) evaluate(q *CompiledQualifier, activation map[string]any) domain.QualifierResult {
	result := domain.QualifierResult{
		QualifierID: q.Config.ID,
		Weight:      q.Config.Weight,
	}

	out, _, err := q.Program.Eval(activation)
	if err != nil {
		result.Signal = domain.SignalError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	score := toScore(out)
	result.Score = score
	result.Signal, result.Reason = matchBand(score, q.Config.Bands)
	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score. Bands are evaluated in
// order; lower inclusive, upper exclusive, nil upper meaning infinity.
func matchBand(score float64, bands []domain.ScoreBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9)

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if score >= lower && (!hasUpper || score < upper) {
			return band.Signal, band.Reason
		}
	}

	return domain.SignalMiss, "no matching band"
}

// Tier thresholds over the weighted average score.
const (
	hotThreshold  = 0.75
	warmThreshold = 0.4
)

// aggregate rolls per-qualifier results into a tier. The score is the
// weighted average over qualifiers that evaluated cleanly; errored
// qualifiers are excluded so one bad expression cannot sink a lead.
func aggregate(results []domain.QualifierResult) *Qualification {
	var (
		weighted    float64
		totalWeight float64
	)
	for _, r := range results {
		if r.Signal == domain.SignalError {
			continue
		}
		w := r.Weight
		if w <= 0 {
			w = 1.0
		}
		weighted += w * r.Score
		totalWeight += w
	}

	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}

	tier := domain.TierCold
	switch {
	case score >= hotThreshold:
		tier = domain.TierHot
	case score >= warmThreshold:
		tier = domain.TierWarm
	}

	return &Qualification{
		Tier:    tier,
		Score:   score,
		Results: results,
	}
}

// QualifiersCount returns the number of loaded qualifiers.
func (e *Engine) QualifiersCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// ReloadQualifiers clears all existing qualifiers and loads new ones.
// This enables hot-reloading from the database.
func (e *Engine) ReloadQualifiers(configs []*domain.QualifierConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*CompiledQualifier)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		fresh[cfg.ID] = compiled
	}

	e.compiled = fresh
	return nil
}

// GetLoadedQualifiers returns the currently loaded configurations.
func (e *Engine) GetLoadedQualifiers() []*domain.QualifierConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.QualifierConfig, 0, len(e.compiled))
	for _, q := range e.compiled {
		out = append(out, q.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledQualifier)
	return nil
}

func (e *Engine) compile(cfg *domain.QualifierConfig) (*CompiledQualifier, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile qualifier %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("qualifier %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for qualifier %s: %w", cfg.ID, err)
	}

	return &CompiledQualifier{
		Config:  cfg,
		Program: program,
	}, nil
}
