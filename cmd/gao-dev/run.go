package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/gao-dev/internal/orchestrator"
	"github.com/gao-dev/gao-dev/pkg/models"
)

var (
	runScale           int
	runProjectType     string
	runStories         int
	runTags            []string
	runRequestPlanning bool
)

var runCmd = &cobra.Command{
	Use:   "run <feature>",
	Short: "Execute a workflow plan for a feature",
	Long: `Select a workflow plan for the given feature and execute it: create
the epic, drive each step through the agent, and hold ceremonies when
they come due.

The scale level decides the plan shape:
  0  chore         implement, commit
  1  bug fix       reproduce, fix, test
  2  small feature PRD, stories, implement, test
  3  feature       PRD, architecture, epics, stories, implement, test
  4  greenfield    vision through integration test

Examples:
  gao-dev run search --scale 3 --stories 6
  gao-dev run crash-on-empty-input --scale 1
  gao-dev run onboarding --scale 2 --request-planning`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runScale, "scale", 2, "Scale level 0-4")
	runCmd.Flags().StringVar(&runProjectType, "type", "", "Project type (cli, web, library, ...)")
	runCmd.Flags().IntVar(&runStories, "stories", 0, "Planned story count for the epic")
	runCmd.Flags().StringSliceVar(&runTags, "tag", nil, "Topic tags used for learning selection")
	runCmd.Flags().BoolVar(&runRequestPlanning, "request-planning", false, "Hold a planning ceremony even at scale 2")
}

func runRun(cmd *cobra.Command, args []string) error {
	scale := models.ScaleLevel(runScale)
	if !scale.Valid() {
		return fmt.Errorf("invalid scale level %d, want 0-4", runScale)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	// SIGINT/SIGTERM cancel the run; the current write finishes first.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range eng.orch.Events() {
			printEvent(ev)
		}
	}()

	result, runErr := eng.orch.Run(ctx, orchestrator.RunRequest{
		Feature:         args[0],
		ScaleLevel:      scale,
		ProjectType:     runProjectType,
		Tags:            runTags,
		TotalStories:    runStories,
		RequestPlanning: runRequestPlanning,
	})
	eng.orch.Close()
	<-done

	if runErr != nil && result.Status == "" {
		return runErr
	}

	fmt.Println()
	switch result.Status {
	case models.PlanCompleted:
		fmt.Printf("%s Epic %d completed: %d/%d steps, %d ceremonies held\n",
			color.GreenString("✓"), result.EpicNum,
			result.Metrics.StepsDone, result.Metrics.StepsTotal, result.Metrics.CeremoniesHeld)
	case models.PlanCancelled:
		fmt.Printf("%s Epic %d cancelled after %d/%d steps\n",
			color.YellowString("⚠"), result.EpicNum,
			result.Metrics.StepsDone, result.Metrics.StepsTotal)
	case models.PlanFailed:
		fmt.Printf("%s Epic %d failed after %d/%d steps\n",
			color.RedString("✗"), result.EpicNum,
			result.Metrics.StepsDone, result.Metrics.StepsTotal)
	}
	return runErr
}

// printEvent renders one orchestration event as a progress line.
func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventPlanStarted:
		fmt.Printf("%s plan started for %q (epic %d)\n", color.CyanString("→"), ev.Detail, ev.EpicNum)
	case orchestrator.EventStepStarted:
		fmt.Printf("  %s %s\n", color.CyanString("→"), ev.Step)
	case orchestrator.EventStepFinished:
		switch ev.Outcome {
		case models.StepSuccess:
			fmt.Printf("  %s %s\n", color.GreenString("✓"), ev.Step)
		case models.StepPartial:
			fmt.Printf("  %s %s (partial)\n", color.YellowString("⚠"), ev.Step)
		case models.StepSkipped:
			fmt.Printf("  %s %s (skipped)\n", color.YellowString("-"), ev.Step)
		default:
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), ev.Step, ev.Detail)
		}
	case orchestrator.EventStoryStarted:
		fmt.Printf("  %s story %d.%d\n", color.CyanString("→"), ev.EpicNum, ev.Story)
	case orchestrator.EventStoryFinished:
		switch ev.Outcome {
		case models.StepFailed:
			fmt.Printf("  %s story %d.%d failed: %s\n", color.RedString("✗"), ev.EpicNum, ev.Story, ev.Detail)
		case models.StepPartial:
			fmt.Printf("  %s story %d.%d (partial)\n", color.YellowString("⚠"), ev.EpicNum, ev.Story)
		default:
			fmt.Printf("  %s story %d.%d\n", color.GreenString("✓"), ev.EpicNum, ev.Story)
		}
	case orchestrator.EventCeremonyHeld:
		fmt.Printf("  %s %s ceremony held (%s)\n", color.MagentaString("◆"), ev.Ceremony, ev.Detail)
	case orchestrator.EventCeremonySkipped:
		fmt.Printf("  %s %s ceremony skipped: %s\n", color.New(color.Faint).Sprint("◇"), ev.Ceremony, ev.Detail)
	case orchestrator.EventArtifactCommitted:
		fmt.Printf("  %s committed %s output (%s)\n", color.New(color.Faint).Sprint("·"), ev.Step, shortSHA(ev.Detail))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
