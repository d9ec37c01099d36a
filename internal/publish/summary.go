package publish

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ArtifactResult is the outcome of one artifact in a publish run.
type ArtifactResult struct {
	Arch    string
	Hash    string
	Size    int
	Outcome Outcome
	Err     error
}

// Summary aggregates per-artifact results of a single invocation.
type Summary struct {
	AppID       string
	AppName     string
	Version     string
	ReleaseID   string
	ReleaseKind ResolutionKind

	mu      sync.Mutex
	results []ArtifactResult
}

func (s *Summary) record(result ArtifactResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

// Results returns the recorded results sorted by architecture label.
func (s *Summary) Results() []ArtifactResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ArtifactResult, len(s.results))
	copy(out, s.results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Arch < out[j].Arch })
	return out
}

// Count returns how many artifacts were published with the given outcome.
func (s *Summary) Count(outcome Outcome) int {
	return s.count(func(r ArtifactResult) bool { return r.Err == nil && r.Outcome == outcome })
}

// Failed returns how many artifacts failed to publish.
func (s *Summary) Failed() int {
	return s.count(func(r ArtifactResult) bool { return r.Err != nil })
}

func (s *Summary) count(match func(ArtifactResult) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, result := range s.results {
		if match(result) {
			n++
		}
	}
	return n
}

// String renders the summary for people.
func (s *Summary) String() string {
	var b strings.Builder
	name := s.AppName
	if name == "" {
		name = s.AppID
	}
	fmt.Fprintf(&b, "app:      %s (%s)\n", name, s.AppID)
	fmt.Fprintf(&b, "version:  %s\n", s.Version)
	if s.ReleaseID != "" {
		fmt.Fprintf(&b, "release:  %s (%s)\n", s.ReleaseID, s.ReleaseKind)
	}
	for _, result := range s.Results() {
		status := result.Outcome.String()
		if result.Err != nil {
			status = "failed: " + result.Err.Error()
		}
		fmt.Fprintf(&b, "  %-8s %s\n", result.Arch, status)
	}
	fmt.Fprintf(&b, "created=%d already_exists=%d failed=%d\n", s.Count(Created), s.Count(AlreadyExists), s.Failed())
	return b.String()
}
