package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the scraping pipeline.
// This is intentionally minimal and in-memory only.

var (
	mu sync.RWMutex

	pagesOpened      int64
	pageFailures     int64
	llmCalls         = make(map[llmKey]int64)
	selectorOutcomes = make(map[string]int64)
	targetFailures   = make(map[string]int64)

	listingsInserted  int64
	snapshotsInserted int64
	targetsSkipped    int64
)

type llmKey struct {
	Op      string
	Success string
}

// RecordPageOpen counts one browser navigation attempt.
func RecordPageOpen(ok bool) {
	mu.Lock()
	defer mu.Unlock()
	if ok {
		pagesOpened++
	} else {
		pageFailures++
	}
}

// RecordLLMCall counts one semantic-extractor call per operation.
func RecordLLMCall(op string, success bool) {
	mu.Lock()
	defer mu.Unlock()
	s := "false"
	if success {
		s = "true"
	}
	llmCalls[llmKey{Op: op, Success: s}]++
}

// RecordSelectorOutcome counts one selector resolution by terminal state
// ("cached", "resolved", "failed").
func RecordSelectorOutcome(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	selectorOutcomes[outcome]++
}

// RecordTargetFailure counts one isolated target failure by cause.
func RecordTargetFailure(cause string) {
	mu.Lock()
	defer mu.Unlock()
	targetFailures[cause]++
}

// RecordInserts counts listing and snapshot rows created.
func RecordInserts(listings, snapshots int) {
	mu.Lock()
	defer mu.Unlock()
	listingsInserted += int64(listings)
	snapshotsInserted += int64(snapshots)
}

// RecordTargetSkipped counts a change-detector short-circuit.
func RecordTargetSkipped() {
	mu.Lock()
	defer mu.Unlock()
	targetsSkipped++
}

// Render returns the metrics in Prometheus text exposition format.
func Render() string {
	mu.RLock()
	defer mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# TYPE rentwatch_pages_opened_total counter\n")
	fmt.Fprintf(&sb, "rentwatch_pages_opened_total %d\n", pagesOpened)
	sb.WriteString("# TYPE rentwatch_page_failures_total counter\n")
	fmt.Fprintf(&sb, "rentwatch_page_failures_total %d\n", pageFailures)

	sb.WriteString("# TYPE rentwatch_llm_calls_total counter\n")
	for _, k := range sortedLLMKeys() {
		fmt.Fprintf(&sb, "rentwatch_llm_calls_total{op=%q,success=%q} %d\n", k.Op, k.Success, llmCalls[k])
	}

	sb.WriteString("# TYPE rentwatch_selector_resolutions_total counter\n")
	for _, outcome := range sortedKeys(selectorOutcomes) {
		fmt.Fprintf(&sb, "rentwatch_selector_resolutions_total{outcome=%q} %d\n", outcome, selectorOutcomes[outcome])
	}

	sb.WriteString("# TYPE rentwatch_target_failures_total counter\n")
	for _, cause := range sortedKeys(targetFailures) {
		fmt.Fprintf(&sb, "rentwatch_target_failures_total{cause=%q} %d\n", cause, targetFailures[cause])
	}

	sb.WriteString("# TYPE rentwatch_listings_inserted_total counter\n")
	fmt.Fprintf(&sb, "rentwatch_listings_inserted_total %d\n", listingsInserted)
	sb.WriteString("# TYPE rentwatch_snapshots_inserted_total counter\n")
	fmt.Fprintf(&sb, "rentwatch_snapshots_inserted_total %d\n", snapshotsInserted)
	sb.WriteString("# TYPE rentwatch_targets_skipped_total counter\n")
	fmt.Fprintf(&sb, "rentwatch_targets_skipped_total %d\n", targetsSkipped)

	return sb.String()
}

// Reset clears all counters. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	pagesOpened = 0
	pageFailures = 0
	listingsInserted = 0
	snapshotsInserted = 0
	targetsSkipped = 0
	llmCalls = make(map[llmKey]int64)
	selectorOutcomes = make(map[string]int64)
	targetFailures = make(map[string]int64)
}

func sortedLLMKeys() []llmKey {
	keys := make([]llmKey, 0, len(llmCalls))
	for k := range llmCalls {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Op != keys[j].Op {
			return keys[i].Op < keys[j].Op
		}
		return keys[i].Success < keys[j].Success
	})
	return keys
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
