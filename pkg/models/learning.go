package models

import (
	"math"
	"time"
)

// LearningCategory classifies what kind of lesson a learning encodes.
type LearningCategory string

const (
	// CategoryQuality concerns tests, coverage, and gates.
	CategoryQuality LearningCategory = "quality"
	// CategoryProcess concerns cadence and team process.
	CategoryProcess LearningCategory = "process"
	// CategoryArchitectural concerns design and structure.
	CategoryArchitectural LearningCategory = "architectural"
	// CategoryOperational concerns deployment and runtime behavior.
	CategoryOperational LearningCategory = "operational"
)

// Valid returns true if the category is a known value.
func (c LearningCategory) Valid() bool {
	switch c {
	case CategoryQuality, CategoryProcess, CategoryArchitectural, CategoryOperational:
		return true
	default:
		return false
	}
}

// Universal returns true for categories that transfer across project
// types and earn the category bonus during similarity scoring.
func (c LearningCategory) Universal() bool {
	switch c {
	case CategoryQuality, CategoryArchitectural, CategoryProcess:
		return true
	default:
		return false
	}
}

// Learning is a durable lesson extracted from a retrospective,
// scored and applied to future workflow plans.
type Learning struct {
	// ID is the auto-assigned identifier.
	ID int64 `json:"id"`
	// Category classifies the lesson.
	Category LearningCategory `json:"category"`
	// Text is the lesson body.
	Text string `json:"text"`
	// Tags is the set of topic tags.
	Tags []string `json:"tags"`
	// ScaleLevel is the scale at which the lesson was observed.
	ScaleLevel ScaleLevel `json:"scale_level"`
	// ProjectType is the kind of project the lesson came from.
	ProjectType string `json:"project_type,omitempty"`
	// BaseRelevance is the stored prior relevance in [0,1].
	BaseRelevance float64 `json:"base_relevance"`
	// ApplicationCount is the number of recorded applications.
	ApplicationCount int `json:"application_count"`
	// SuccessRate is the weighted success fraction in [0,1].
	SuccessRate float64 `json:"success_rate"`
	// ConfidenceScore is derived from application count and success rate.
	ConfidenceScore float64 `json:"confidence_score"`
	// IndexedAt is when the learning was indexed; drives decay.
	IndexedAt time.Time `json:"indexed_at"`
	// SupersededBy points to a newer learning that replaces this one.
	// Superseded learnings are never scored.
	SupersededBy int64 `json:"superseded_by,omitempty"`
	// SourceCeremonyID is the ceremony that produced the learning, if any.
	SourceCeremonyID int64 `json:"source_ceremony_id,omitempty"`
}

// ConfidenceScore computes the confidence for a learning with n recorded
// applications and the given success rate:
//
//	confidence = 0.5 + 0.4 * (1 - e^(-n/10))
//
// multiplied by successRate when successRate < 0.5, so consistently
// failing learnings cannot grow confident.
func ConfidenceScore(n int, successRate float64) float64 {
	c := 0.5 + 0.4*(1-math.Exp(-float64(n)/10))
	if successRate < 0.5 {
		c *= successRate
	}
	return c
}

// ApplicationOutcome is the result of applying a learning to work.
type ApplicationOutcome string

const (
	// ApplicationSuccess counts as one success.
	ApplicationSuccess ApplicationOutcome = "success"
	// ApplicationPartial counts as half a success.
	ApplicationPartial ApplicationOutcome = "partial"
	// ApplicationFailure counts as zero successes.
	ApplicationFailure ApplicationOutcome = "failure"
)

// SuccessWeight returns the contribution toward success_rate.
func (o ApplicationOutcome) SuccessWeight() float64 {
	switch o {
	case ApplicationSuccess:
		return 1.0
	case ApplicationPartial:
		return 0.5
	default:
		return 0.0
	}
}

// LearningApplication records one application of a learning to an epic
// or story. A learning's application_count equals the number of
// application rows referencing it.
type LearningApplication struct {
	// ID is the auto-assigned identifier.
	ID int64 `json:"id"`
	// LearningID is the learning that was applied.
	LearningID int64 `json:"learning_id"`
	// EpicNum is the epic the learning was applied to.
	EpicNum int `json:"epic_num"`
	// StoryNum is the story, if applicable (0 means epic-level).
	StoryNum int `json:"story_num,omitempty"`
	// Outcome is the application result.
	Outcome ApplicationOutcome `json:"outcome"`
	// AppliedAt is when the application was recorded.
	AppliedAt time.Time `json:"applied_at"`
	// Context is free text describing how the learning was used.
	Context string `json:"context,omitempty"`
}
