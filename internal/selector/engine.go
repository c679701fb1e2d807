// Package selector resolves the container selector for a floorplan target:
// cached lookup, semantic proposal, empirical candidate testing, and an
// id-prefix heuristic fallback, run as an explicit state machine so every
// transition is deterministic and testable.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rentwatch/internal/metrics"
	"rentwatch/internal/model"
	"rentwatch/internal/nav"
)

// ErrNoSelector means discovery exhausted candidates and the heuristic
// without finding a plausible selector. Nothing is persisted, so the target
// is naturally retried next run.
var ErrNoSelector = errors.New("no plausible container selector")

// State enumerates the resolution state machine.
type State int

const (
	StateCached State = iota
	StateDiscovering
	StateCandidateTesting
	StateHeuristicFallback
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCached:
		return "cached"
	case StateDiscovering:
		return "discovering"
	case StateCandidateTesting:
		return "candidate_testing"
	case StateHeuristicFallback:
		return "heuristic_fallback"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the slice of persistence the engine needs.
type Store interface {
	GetSelector(ctx context.Context, scope model.Scope) (*string, error)
	SaveSelector(ctx context.Context, scope model.Scope, selector string) error
}

// Proposer supplies ranked candidate selectors for a page.
type Proposer interface {
	ProposeContainerSelectors(ctx context.Context, pageURL, text string) (model.CandidateSelectorSet, error)
}

// Config bounds candidate acceptance and the heuristic fallback.
type Config struct {
	// A candidate's live match count n is plausible when
	// MinMatches < n <= MaxMatches.
	MinMatches    int
	MaxMatches    int
	CandidateWait time.Duration
	// Heuristic fallback: scan up to MaxIDs element ids, require the modal
	// "post-id-" prefix at least MinPrefixHits times, and accept the
	// synthesized selector when its count is in (0, HeuristicMaxMatches].
	MaxIDs              int
	MinPrefixHits       int
	HeuristicMaxMatches int
}

// Engine resolves selectors for owner scopes.
type Engine struct {
	store Store
	llm   Proposer
	cfg   Config
	log   *slog.Logger
}

func NewEngine(store Store, llm Proposer, cfg Config, log *slog.Logger) *Engine {
	if cfg.CandidateWait <= 0 {
		cfg.CandidateWait = 5 * time.Second
	}
	return &Engine{store: store, llm: llm, cfg: cfg, log: log}
}

// Resolve drives the state machine for one target against an open page.
// It returns the resolved selector, or ErrNoSelector when the target should
// be skipped this run. Store errors abort immediately.
func (e *Engine) Resolve(ctx context.Context, target model.FloorplanTarget, page nav.Page) (string, error) {
	scope := target.Scope()

	st := StateCached
	var candidates model.CandidateSelectorSet
	var chosen string

	for {
		switch st {
		case StateCached:
			cached, err := e.store.GetSelector(ctx, scope)
			if err != nil {
				return "", fmt.Errorf("load cached selector: %w", err)
			}
			if cached != nil && *cached != "" {
				metrics.RecordSelectorOutcome("cached")
				return *cached, nil
			}
			st = StateDiscovering

		case StateDiscovering:
			text, err := page.VisibleText()
			if err != nil {
				return "", fmt.Errorf("read page text: %w", err)
			}
			candidates, err = e.llm.ProposeContainerSelectors(ctx, target.URL, text)
			if err != nil {
				e.log.Warn("selector proposal failed", "url", target.URL, "error", err)
				st = StateFailed
				continue
			}
			st = StateCandidateTesting

		case StateCandidateTesting:
			chosen = e.testCandidates(page, candidates)
			if chosen != "" {
				st = StateResolved
			} else {
				st = StateHeuristicFallback
			}

		case StateHeuristicFallback:
			chosen = e.heuristic(page)
			if chosen != "" {
				st = StateResolved
			} else {
				st = StateFailed
			}

		case StateResolved:
			if err := e.store.SaveSelector(ctx, scope, chosen); err != nil {
				return "", fmt.Errorf("save selector: %w", err)
			}
			metrics.RecordSelectorOutcome("resolved")
			e.log.Info("selector resolved", "url", target.URL, "selector", chosen)
			return chosen, nil

		case StateFailed:
			metrics.RecordSelectorOutcome("failed")
			return "", ErrNoSelector
		}
	}
}

// testCandidates tries each sanitized candidate in rank order and returns
// the first whose live match count falls inside the plausibility window.
func (e *Engine) testCandidates(page nav.Page, candidates model.CandidateSelectorSet) string {
	for _, cand := range candidates {
		cand = Sanitize(cand)
		if cand == "" {
			continue
		}
		if err := page.WaitFor(cand, e.cfg.CandidateWait); err != nil {
			continue
		}
		n, _, err := page.LocateAll(cand)
		if err != nil {
			continue
		}
		if n > e.cfg.MinMatches && n <= e.cfg.MaxMatches {
			return cand
		}
	}
	return ""
}

// heuristic synthesizes a selector from the dominant repeating id prefix and
// accepts it only when its live count is inside the fallback window.
func (e *Engine) heuristic(page nav.Page) string {
	ids, err := page.ElementIDs(e.cfg.MaxIDs)
	if err != nil {
		return ""
	}
	sel := HeuristicPrefixSelector(ids, e.cfg.MinPrefixHits)
	if sel == "" {
		return ""
	}
	if err := page.WaitFor(sel, e.cfg.CandidateWait); err != nil {
		return ""
	}
	n, _, err := page.LocateAll(sel)
	if err != nil || n <= 0 || n > e.cfg.HeuristicMaxMatches {
		return ""
	}
	return sel
}

// HeuristicPrefixSelector inspects element ids for the literal prefix ending
// in "post-id-" (as produced by common page builders) and, when the most
// frequent prefix occurs at least minHits times, synthesizes an attribute
// prefix selector for it.
func HeuristicPrefixSelector(ids []string, minHits int) string {
	const marker = "post-id-"

	counts := make(map[string]int)
	for _, id := range ids {
		idx := strings.Index(id, marker)
		if idx < 0 {
			continue
		}
		counts[id[:idx+len(marker)]]++
	}

	best, bestHits := "", 0
	for prefix, hits := range counts {
		if hits > bestHits {
			best, bestHits = prefix, hits
		}
	}
	if bestHits < minHits {
		return ""
	}
	return fmt.Sprintf("[id^='%s']", best)
}

// Sanitize repairs the selector defects the proposer produces in practice:
// smart quotes, stray whitespace, and an erroneous leading "." glued onto an
// element or attribute compound.
func Sanitize(sel string) string {
	sel = strings.TrimSpace(sel)
	r := strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)
	sel = r.Replace(sel)

	if rest, ok := strings.CutPrefix(sel, "."); ok {
		if strings.HasPrefix(rest, "[") || startsWithElementCompound(rest) {
			sel = rest
		}
	}
	return sel
}

// htmlElements covers the tags that plausibly open a container selector.
var htmlElements = map[string]struct{}{
	"a": {}, "article": {}, "div": {}, "li": {}, "section": {},
	"span": {}, "table": {}, "td": {}, "tr": {}, "ul": {},
}

// startsWithElementCompound reports whether s begins with an HTML element
// name immediately followed by a class, attribute, or id marker, i.e. the
// shape ".div.card" that a correct class selector never has.
func startsWithElementCompound(s string) bool {
	end := strings.IndexAny(s, ".#[:")
	if end <= 0 {
		return false
	}
	_, ok := htmlElements[strings.ToLower(s[:end])]
	return ok
}
