package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"grantradar/features/grant"
	"grantradar/internal/middleware"
	"grantradar/internal/stream"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	SearchOpen(ctx context.Context, vector []float32, limit int) ([]Candidate, error)
}

type GrantLoader interface {
	GetByIDs(ctx context.Context, ids []string) ([]grant.Grant, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, req Requirement, g grant.Grant) (Evaluation, error)
}

type Options struct {
	TopK            int
	EvalConcurrency int
	EvalTimeout     time.Duration
}

// Service runs the discovery pipeline: embed the requirement, pull the top
// candidates from the vector index, hydrate them from the record store,
// evaluate each with the LLM under a bounded pool, then rank.
type Service struct {
	embedder    Embedder
	index       Index
	grants      GrantLoader
	evaluator   Evaluator
	logger      *QueryLogger
	pool        *ants.Pool
	topK        int
	evalTimeout time.Duration
}

func NewService(e Embedder, idx Index, g GrantLoader, ev Evaluator, l *QueryLogger, opts Options) (*Service, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.EvalConcurrency <= 0 {
		opts.EvalConcurrency = 4
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 30 * time.Second
	}

	pool, err := ants.NewPool(opts.EvalConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create evaluator pool: %w", err)
	}

	return &Service{
		embedder:    e,
		index:       idx,
		grants:      g,
		evaluator:   ev,
		logger:      l,
		pool:        pool,
		topK:        opts.TopK,
		evalTimeout: opts.EvalTimeout,
	}, nil
}

func (s *Service) Close() {
	s.pool.Release()
}

// Search drives one discovery run, emitting progress frames on sess. A
// returned *PartialEvaluationFailure means the stream still completed; any
// other error means a terminal error frame was emitted.
func (s *Service) Search(ctx context.Context, req Requirement, sess *stream.Session) error {
	start := time.Now()
	correlationID := middleware.GetCorrelationID(ctx)

	_ = sess.Emit(stream.StageInitializing, "Starting grant discovery", 2, nil)

	if err := req.Validate(); err != nil {
		_ = sess.Error(err.Error())
		return err
	}

	_ = sess.Emit(stream.StageAnalyzing, "Analyzing your requirements", 5, nil)

	vec, err := s.embedder.Embed(ctx, req.Text())
	if err != nil {
		_ = sess.Error("Could not analyze requirements")
		return &DependencyError{Dependency: "embedder", Err: err}
	}

	_ = sess.Emit(stream.StageSearching, "Searching open grants", 15, nil)

	candidates, err := s.index.SearchOpen(ctx, vec, s.topK)
	if err != nil {
		_ = sess.Error("Grant search is temporarily unavailable")
		return &DependencyError{Dependency: "vector index", Err: err}
	}

	hydrated, err := s.hydrate(ctx, candidates)
	if err != nil {
		_ = sess.Error("Grant search is temporarily unavailable")
		return &DependencyError{Dependency: "database", Err: err}
	}

	total := len(hydrated)
	if total == 0 {
		_ = sess.Emit(stream.StageFinalizing, "No open grants matched", 95, nil)
		_ = sess.Emit(stream.StageComplete, "Search complete", 100, Result{Success: true, Grants: []GrantMatch{}, TotalFound: 0})
		s.log(req, 0, 0, start, correlationID)
		return nil
	}

	matches, failed := s.evaluateAll(ctx, req, hydrated, sess, total)

	if failed == total {
		_ = sess.Error("Grant evaluation is temporarily unavailable")
		return &DependencyError{Dependency: "evaluator", Err: errors.New("all evaluations failed")}
	}

	rank(matches)

	finalMsg := "Ranking results"
	if failed > 0 {
		finalMsg = fmt.Sprintf("Ranking results (%d grants skipped)", failed)
	}
	_ = sess.Emit(stream.StageFinalizing, finalMsg, 95, nil)

	result := Result{Success: true, Grants: matches, TotalFound: total}
	_ = sess.Emit(stream.StageComplete, "Search complete", 100, result)

	s.log(req, len(candidates), len(matches), start, correlationID)

	if failed > 0 {
		return &PartialEvaluationFailure{Failed: failed, Total: total}
	}
	return nil
}

// hydrate loads the candidate rows and returns them in index order, dropping
// IDs the record store no longer has.
func (s *Service) hydrate(ctx context.Context, candidates []Candidate) ([]grant.Grant, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.GrantID
	}

	rows, err := s.grants.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]grant.Grant, len(rows))
	for _, g := range rows {
		byID[g.ID] = g
	}

	ordered := make([]grant.Grant, 0, len(candidates))
	for _, c := range candidates {
		g, ok := byID[c.GrantID]
		if !ok {
			slog.WarnContext(ctx, "candidate missing from record store", "grant_id", c.GrantID)
			continue
		}
		ordered = append(ordered, g)
	}
	return ordered, nil
}

func (s *Service) evaluateAll(ctx context.Context, req Requirement, grants []grant.Grant, sess *stream.Session, total int) ([]GrantMatch, int) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		matches []GrantMatch
		failed  int
		done    int
	)

	for _, g := range grants {
		g := g
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()

			evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
			defer cancel()

			ev, err := s.evaluator.Evaluate(evalCtx, req, g)

			mu.Lock()
			if err != nil {
				failed++
				slog.WarnContext(ctx, "grant evaluation failed", "grant_id", g.ID, "error", err)
			} else {
				matches = append(matches, toMatch(g, ev.Normalized()))
			}
			done++
			d := done
			mu.Unlock()

			_ = sess.Emit(stream.StageEvaluating, fmt.Sprintf("Evaluating grants (%d/%d)", d, total), 30+(60*d)/total, nil)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failed++
			done++
			mu.Unlock()
			slog.ErrorContext(ctx, "failed to submit evaluation task", "grant_id", g.ID, "error", submitErr)
		}
	}

	wg.Wait()
	return matches, failed
}

func toMatch(g grant.Grant, ev Evaluation) GrantMatch {
	return GrantMatch{
		GrantID:        g.ID,
		GrantName:      g.Name,
		Agency:         g.Agency,
		FundingAmount:  g.MaxFunding,
		Deadline:       g.Deadline,
		DetailsURL:     g.OriginalURL,
		ApplicationURL: g.ApplicationURL,
		Evaluation:     ev,
	}
}

// rank orders by overall score, then relevance, then name for a stable
// tie-break.
func rank(matches []GrantMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].Evaluation, matches[j].Evaluation
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		return matches[i].GrantName < matches[j].GrantName
	})
}

func (s *Service) log(req Requirement, candidates, results int, start time.Time, correlationID string) {
	if s.logger == nil {
		return
	}
	s.logger.Log(QueryLogEntry{
		IssueArea:     req.IssueArea,
		Scope:         req.ScopeOfGrant,
		NumCandidates: candidates,
		NumResults:    results,
		Duration:      time.Since(start),
		CorrelationID: correlationID,
	})
}
