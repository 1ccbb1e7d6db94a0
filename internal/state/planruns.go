package state

import (
	"database/sql"
	"fmt"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// PlanRun is one recorded execution of a workflow plan.
type PlanRun struct {
	// ID is the auto-assigned identifier.
	ID int64 `json:"id"`
	// EpicNum is the epic the plan ran for.
	EpicNum int `json:"epic_num"`
	// Status is "running" while live, then a terminal PlanStatus.
	Status string `json:"status"`
	// StepsTotal is the planned step count.
	StepsTotal int `json:"steps_total"`
	// StepsDone is the number of steps that finished.
	StepsDone int `json:"steps_done"`
	// CeremoniesHeld counts ceremonies held during the run.
	CeremoniesHeld int `json:"ceremonies_held"`
	// CeremoniesSkipped counts ceremonies due but denied or not triggered.
	CeremoniesSkipped int `json:"ceremonies_skipped"`
}

// StartPlanRun records the start of a plan execution. Run bookkeeping
// carries no artifact, so no commit is paired with it.
func (c *Coordinator) StartPlanRun(epicNum, stepsTotal int) (int64, error) {
	res, err := c.store.Exec(`
		INSERT INTO plan_runs (epic_num, status, started_at, steps_total)
		VALUES (?, 'running', ?, ?)`,
		epicNum, store.FormatTime(c.now()), stepsTotal)
	if err != nil {
		return 0, fmt.Errorf("start plan run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("plan run id: %w", err)
	}
	return id, nil
}

// FinishPlanRun records a plan execution's terminal status and counters.
func (c *Coordinator) FinishPlanRun(id int64, status models.PlanStatus, stepsDone, held, skipped int) error {
	res, err := c.store.Exec(`
		UPDATE plan_runs
		SET status = ?, finished_at = ?, steps_done = ?, ceremonies_held = ?, ceremonies_skipped = ?
		WHERE id = ?`,
		string(status), store.FormatTime(c.now()), stepsDone, held, skipped, id)
	if err != nil {
		return fmt.Errorf("finish plan run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan run %d not found", id)
	}
	return nil
}

// LastPlanRun returns the most recent plan run for an epic, or nil.
func (c *Coordinator) LastPlanRun(epicNum int) (*PlanRun, error) {
	row := c.store.QueryRow(`
		SELECT id, epic_num, status, steps_total, steps_done, ceremonies_held, ceremonies_skipped
		FROM plan_runs WHERE epic_num = ? ORDER BY id DESC LIMIT 1`, epicNum)

	var r PlanRun
	err := row.Scan(&r.ID, &r.EpicNum, &r.Status, &r.StepsTotal, &r.StepsDone, &r.CeremoniesHeld, &r.CeremoniesSkipped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last plan run: %w", err)
	}
	return &r, nil
}

// CommitStepOutput persists a step's artifacts with one commit. The
// commit type follows the step's phase: documentation for analysis and
// planning output, test for test steps, feat otherwise.
func (c *Coordinator) CommitStepOutput(epicNum int, step models.WorkflowStep, artifacts []models.Artifact) (string, error) {
	epic, err := c.GetEpic(epicNum)
	if err != nil {
		return "", err
	}
	if epic == nil {
		return "", fmt.Errorf("epic %d not found", epicNum)
	}

	typ := "feat"
	switch {
	case step.Phase == models.PhaseAnalysis || step.Phase == models.PhasePlanning || step.Phase == models.PhaseSolutioning:
		typ = "docs"
	case step.Name == "test-feature" || step.Name == "integration-test" || step.Name == "write-tests":
		typ = "test"
	case epic.ScaleLevel == models.ScaleBugFix:
		typ = "fix"
	}

	if err := c.writeArtifacts(artifacts); err != nil {
		return "", err
	}
	msg, err := gitops.NewCommitMessage(typ, epic.FeatureName, fmt.Sprintf("%s output for epic %d", step.Name, epicNum))
	if err != nil {
		return "", err
	}
	return c.mutate(msg, func(tx *sql.Tx) error { return nil }, nil)
}
