package agentrunner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// fakeAgent writes a shell script that plays the agent role: it drops
// an artifact into the staging dir and prints a JSON result.
func fakeAgent(t *testing.T, script string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script agent fixture is unix only")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}

	root := t.TempDir()
	path := filepath.Join(root, "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write agent script: %v", err)
	}
	return path, root
}

func testRunner(t *testing.T, agentPath, root string) *Subprocess {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.Command = agentPath
	cfg.Timeouts.AbandonGrace = time.Second
	return NewSubprocess(cfg, root, nil)
}

func TestSubprocess_ExecuteStep(t *testing.T) {
	// $1 is the kind, $3 the staging dir.
	agent, root := fakeAgent(t, `
staging="$3"
mkdir -p "$staging/docs"
printf 'artifact body\n' > "$staging/docs/note.md"
printf '{"outcome":"success","gates":"passed"}\n'
`)
	s := testRunner(t, agent, root)

	result, err := s.ExecuteStep(context.Background(), StepRequest{
		Step:    models.WorkflowStep{Name: "implement-stories", Phase: models.PhaseImplementation},
		EpicNum: 1, Feature: "search",
	})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.Outcome != models.StepSuccess {
		t.Errorf("Outcome = %q, want success", result.Outcome)
	}
	if result.Gates != models.GatesPassed {
		t.Errorf("Gates = %q, want passed", result.Gates)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(result.Artifacts))
	}
	if result.Artifacts[0].Path != "docs/note.md" {
		t.Errorf("artifact path = %q, want docs/note.md", result.Artifacts[0].Path)
	}
	if string(result.Artifacts[0].Bytes) != "artifact body\n" {
		t.Errorf("artifact bytes = %q", result.Artifacts[0].Bytes)
	}
}

func TestSubprocess_ExecuteCeremony(t *testing.T) {
	agent, root := fakeAgent(t, `
printf '{"transcript":"## Summary\\nfine\\n","duration_ms":12}\n'
`)
	s := testRunner(t, agent, root)

	result, err := s.ExecuteCeremony(context.Background(), CeremonyRequest{
		Type: models.CeremonyStandup, EpicNum: 1,
	})
	if err != nil {
		t.Fatalf("ExecuteCeremony: %v", err)
	}
	if result.DurationMS != 12 {
		t.Errorf("DurationMS = %d, want 12", result.DurationMS)
	}
	if result.Transcript == "" {
		t.Error("empty transcript")
	}
}

func TestSubprocess_DeadlineKillsAgent(t *testing.T) {
	agent, root := fakeAgent(t, `
sleep 30
printf '{"outcome":"success"}\n'
`)
	s := testRunner(t, agent, root)

	start := time.Now()
	_, err := s.ExecuteStep(context.Background(), StepRequest{
		Step: models.WorkflowStep{Name: "implement-stories"}, Deadline: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("ExecuteStep succeeded past its deadline")
	}
	if !models.IsKind(err, models.KindAgentFailure) {
		t.Errorf("error kind = %q, want agent_failure", models.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("deadline took %v to enforce", elapsed)
	}
}

func TestSubprocess_CancellationIsNotAgentFailure(t *testing.T) {
	agent, root := fakeAgent(t, `
sleep 30
`)
	s := testRunner(t, agent, root)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := s.ExecuteStep(ctx, StepRequest{
		Step: models.WorkflowStep{Name: "implement-stories"}, Deadline: time.Minute,
	})
	if err == nil {
		t.Fatal("ExecuteStep survived cancellation")
	}
	if !models.IsKind(err, models.KindCancelled) {
		t.Errorf("error kind = %q, want cancelled", models.KindOf(err))
	}
}

func TestSubprocess_BadJSONIsAgentFailure(t *testing.T) {
	agent, root := fakeAgent(t, `
printf 'this is not json\n'
`)
	s := testRunner(t, agent, root)

	_, err := s.ExecuteStep(context.Background(), StepRequest{
		Step: models.WorkflowStep{Name: "implement-stories"},
	})
	if err == nil {
		t.Fatal("ExecuteStep accepted non-JSON output")
	}
	if !models.IsKind(err, models.KindAgentFailure) {
		t.Errorf("error kind = %q, want agent_failure", models.KindOf(err))
	}
}

func TestScripted_ReplaysQueue(t *testing.T) {
	s := NewScripted()
	s.QueueStep(StepResult{Outcome: models.StepPartial, Diagnostics: "gates failed"}, nil)
	s.QueueStep(StepResult{}, errors.New("boom"))

	first, err := s.ExecuteStep(context.Background(), StepRequest{EpicNum: 1})
	if err != nil {
		t.Fatalf("first ExecuteStep: %v", err)
	}
	if first.Outcome != models.StepPartial {
		t.Errorf("first outcome = %q, want partial", first.Outcome)
	}

	if _, err := s.ExecuteStep(context.Background(), StepRequest{EpicNum: 1}); err == nil {
		t.Error("second ExecuteStep did not replay the error")
	}

	// Drained queue falls back to success.
	third, err := s.ExecuteStep(context.Background(), StepRequest{EpicNum: 1})
	if err != nil {
		t.Fatalf("third ExecuteStep: %v", err)
	}
	if third.Outcome != models.StepSuccess {
		t.Errorf("drained outcome = %q, want success", third.Outcome)
	}

	if calls := s.StepCalls(); len(calls) != 3 {
		t.Errorf("recorded %d step calls, want 3", len(calls))
	}
}
