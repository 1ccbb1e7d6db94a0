// Package learning scores historical learnings against a work request,
// selects the relevant ones, and records application outcomes back
// against them.
package learning

import (
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Request describes the work a caller wants relevant learnings for.
type Request struct {
	// ScaleLevel is the scale of the upcoming work.
	ScaleLevel models.ScaleLevel
	// ProjectType is the kind of project.
	ProjectType string
	// Tags describes the work's topics.
	Tags []string
	// Limit caps the result count; 0 means the default of 5.
	Limit int
}

// DefaultLimit is the number of learnings returned when the request
// does not specify one.
const DefaultLimit = 5

// DefaultThreshold is the minimum score a learning needs to be selected.
const DefaultThreshold = 0.3

// Decay returns the age factor for a learning indexed daysOld days ago.
// Fresh learnings keep full weight for 30 days, then fade linearly to
// 0.8 at 90 days and 0.6 at 180 days, with a floor of 0.5 beyond that.
func Decay(daysOld float64) float64 {
	switch {
	case daysOld <= 30:
		return 1.0
	case daysOld <= 90:
		return 1.0 - (daysOld-30)/60*0.2
	case daysOld <= 180:
		return 0.8 - (daysOld-90)/90*0.2
	default:
		return 0.5
	}
}

// Similarity returns the weighted context match between a learning and
// a request, clamped to [0,1]. Scale match contributes up to 0.3
// (adjacent levels half), project type match 0.2, tag Jaccard overlap
// up to 0.3, and universal categories a flat 0.2.
func Similarity(l models.Learning, req Request) float64 {
	var sim float64

	diff := int(l.ScaleLevel) - int(req.ScaleLevel)
	switch {
	case diff == 0:
		sim += 0.3
	case diff == 1 || diff == -1:
		sim += 0.15
	}

	if l.ProjectType != "" && l.ProjectType == req.ProjectType {
		sim += 0.2
	}

	sim += jaccard(l.Tags, req.Tags) * 0.3

	if l.Category.Universal() {
		sim += 0.2
	}

	if sim > 1.0 {
		return 1.0
	}
	if sim < 0.0 {
		return 0.0
	}
	return sim
}

// jaccard returns |a ∩ b| / |a ∪ b|, 0 when both sets are empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}

	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}

	union := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		union[s] = true
	}
	var inter int
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		union[s] = true
		if inA[s] {
			inter++
		}
	}
	return float64(inter) / float64(len(union))
}

// Score computes the full relevance score of a learning for a request
// at the given time. A learning that has never been applied scores with
// a neutral success rate of 1.0 so new lessons are not buried by their
// empty history.
func Score(l models.Learning, req Request, now time.Time) float64 {
	rate := l.SuccessRate
	if l.ApplicationCount == 0 {
		rate = 1.0
	}

	daysOld := now.Sub(l.IndexedAt).Hours() / 24
	return l.BaseRelevance * rate * l.ConfidenceScore * Decay(daysOld) * Similarity(l, req)
}
