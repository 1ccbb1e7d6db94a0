package agentrunner

import (
	"context"
	"sync"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Scripted is a Runner that replays queued results, for tests and dry
// runs. When its queue is empty every step succeeds with no artifacts
// and every ceremony returns a minimal transcript.
type Scripted struct {
	mu            sync.Mutex
	stepQueue     []scriptedResult[StepResult]
	ceremonyQueue []scriptedResult[CeremonyResult]
	stepCalls     []StepRequest
	ceremonyCalls []CeremonyRequest
}

type scriptedResult[T any] struct {
	result T
	err    error
}

var _ Runner = (*Scripted)(nil)

// NewScripted creates an empty scripted runner.
func NewScripted() *Scripted {
	return &Scripted{}
}

// QueueStep appends a step result to replay.
func (s *Scripted) QueueStep(result StepResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepQueue = append(s.stepQueue, scriptedResult[StepResult]{result, err})
}

// QueueCeremony appends a ceremony result to replay.
func (s *Scripted) QueueCeremony(result CeremonyResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceremonyQueue = append(s.ceremonyQueue, scriptedResult[CeremonyResult]{result, err})
}

// StepCalls returns the step requests seen so far.
func (s *Scripted) StepCalls() []StepRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepRequest(nil), s.stepCalls...)
}

// CeremonyCalls returns the ceremony requests seen so far.
func (s *Scripted) CeremonyCalls() []CeremonyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CeremonyRequest(nil), s.ceremonyCalls...)
}

// ExecuteStep replays the next queued step result.
func (s *Scripted) ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepCalls = append(s.stepCalls, req)
	if len(s.stepQueue) == 0 {
		return StepResult{Outcome: models.StepSuccess}, nil
	}
	next := s.stepQueue[0]
	s.stepQueue = s.stepQueue[1:]
	return next.result, next.err
}

// ExecuteCeremony replays the next queued ceremony result.
func (s *Scripted) ExecuteCeremony(ctx context.Context, req CeremonyRequest) (CeremonyResult, error) {
	if err := ctx.Err(); err != nil {
		return CeremonyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceremonyCalls = append(s.ceremonyCalls, req)
	if len(s.ceremonyQueue) == 0 {
		return CeremonyResult{Transcript: "## Summary\nok\n", DurationMS: 1}, nil
	}
	next := s.ceremonyQueue[0]
	s.ceremonyQueue = s.ceremonyQueue[1:]
	return next.result, next.err
}
