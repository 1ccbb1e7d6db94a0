package agentrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Subprocess runs the agent as a child process. The request goes in as
// JSON on stdin, the result comes back as JSON on stdout, and artifacts
// land in a per-invocation staging directory mirrored to the repository
// layout.
type Subprocess struct {
	command     string
	args        []string
	stagingRoot string
	grace       time.Duration
	stepDefault time.Duration
	cerDefault  time.Duration
	logger      *slog.Logger
}

var _ Runner = (*Subprocess)(nil)

// NewSubprocess creates a subprocess runner for the project at root.
func NewSubprocess(cfg *config.Config, projectRoot string, logger *slog.Logger) *Subprocess {
	staging := cfg.Agent.StagingDir
	if !filepath.IsAbs(staging) {
		staging = filepath.Join(projectRoot, staging)
	}
	return &Subprocess{
		command:     cfg.Agent.Command,
		args:        cfg.Agent.Args,
		stagingRoot: staging,
		grace:       cfg.Timeouts.AbandonGrace,
		stepDefault: cfg.Timeouts.Step,
		cerDefault:  cfg.Timeouts.Ceremony,
		logger:      logging.OrNop(logger),
	}
}

// ExecuteStep runs one workflow step through the agent.
func (s *Subprocess) ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error) {
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = s.stepDefault
	}

	var result StepResult
	artifacts, err := s.invoke(ctx, "step", req, deadline, &result)
	if err != nil {
		return StepResult{}, err
	}
	result.Artifacts = artifacts
	if result.Outcome == "" {
		return StepResult{}, models.NewAgentFailure("agent returned no outcome", nil)
	}
	return result, nil
}

// ExecuteCeremony runs one ceremony through the agent.
func (s *Subprocess) ExecuteCeremony(ctx context.Context, req CeremonyRequest) (CeremonyResult, error) {
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = s.cerDefault
	}

	start := time.Now()
	var result CeremonyResult
	if _, err := s.invoke(ctx, "ceremony", req, deadline, &result); err != nil {
		return CeremonyResult{}, err
	}
	if result.DurationMS == 0 {
		result.DurationMS = time.Since(start).Milliseconds()
	}
	if result.Transcript == "" {
		return CeremonyResult{}, models.NewAgentFailure("agent returned no transcript", nil)
	}
	return result, nil
}

// invoke runs one agent call. On deadline or cancellation the process
// gets the grace period to exit before it is killed, and whatever it
// staged is discarded.
func (s *Subprocess) invoke(ctx context.Context, kind string, req any, deadline time.Duration, out any) ([]models.Artifact, error) {
	callID := uuid.NewString()
	staging := filepath.Join(s.stagingRoot, callID)
	watcher, err := newStagingWatcher(staging)
	if err != nil {
		return nil, models.NewAgentFailure("prepare staging", err)
	}

	input, err := json.Marshal(req)
	if err != nil {
		watcher.Discard()
		return nil, fmt.Errorf("encode %s request: %w", kind, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	args := append(append([]string{}, s.args...), kind, "--staging", staging)
	cmd := exec.CommandContext(callCtx, s.command, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.grace
	cmd.Cancel = func() error {
		// Ask politely first; WaitDelay hard-kills after the grace period.
		return cmd.Process.Signal(interruptSignal)
	}

	s.logger.Debug("agent invocation started",
		"call_id", callID, "kind", kind, "deadline", deadline.String())
	runErr := cmd.Run()

	if callCtx.Err() != nil {
		watcher.Discard()
		if ctx.Err() != nil {
			return nil, &models.CoreError{
				Kind: models.KindCancelled, Code: models.CodeCancelled,
				Msg: fmt.Sprintf("%s invocation cancelled", kind), Err: ctx.Err(),
			}
		}
		return nil, models.NewAgentFailure(
			fmt.Sprintf("%s invocation exceeded %s deadline", kind, deadline), callCtx.Err())
	}
	if runErr != nil {
		watcher.Discard()
		return nil, models.NewAgentFailure(
			fmt.Sprintf("agent exited: %s", firstLine(stderr.String())), runErr)
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		watcher.Discard()
		return nil, models.NewAgentFailure("agent output is not valid JSON", err)
	}

	artifacts, err := watcher.Collect()
	if err != nil {
		return nil, models.NewAgentFailure("collect staged artifacts", err)
	}
	s.logger.Debug("agent invocation finished",
		"call_id", callID, "kind", kind, "artifacts", len(artifacts))
	return artifacts, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
