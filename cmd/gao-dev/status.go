package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/gao-dev/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [epic]",
	Short: "Show epic progress",
	Long: `Display the state of an epic: story progress, ceremonies held, and
open action items. With no argument the most recent epic is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	epicNum := 0
	if len(args) > 0 {
		epicNum, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid epic number %q", args[0])
		}
	} else {
		epics, err := eng.state.ListEpics()
		if err != nil {
			return err
		}
		if len(epics) == 0 {
			fmt.Println("No epics yet. Run 'gao-dev run <feature>' to start.")
			return nil
		}
		epicNum = epics[len(epics)-1].EpicNum
	}

	st, err := eng.orch.EpicStatus(epicNum)
	if err != nil {
		return err
	}

	displayEpic(st.Epic)
	displayStories(st.Stories)
	displayCeremonies(st.Ceremonies)
	displayActions(st.OpenActions)
	if st.LastRun != nil {
		fmt.Printf("\nLast run: %s (%d/%d steps, %d ceremonies held, %d skipped)\n",
			st.LastRun.Status, st.LastRun.StepsDone, st.LastRun.StepsTotal,
			st.LastRun.CeremoniesHeld, st.LastRun.CeremoniesSkipped)
	}
	return nil
}

func displayEpic(e models.Epic) {
	fmt.Printf("Epic %d: %s\n", e.EpicNum, e.FeatureName)
	fmt.Printf("  Scale: %d  Status: %s\n", int(e.ScaleLevel), statusColor(string(e.Status)))
	fmt.Printf("  Stories: %d/%d completed\n", e.StoriesCompleted, e.TotalStories)
	fmt.Printf("  Created: %s ago\n", formatDuration(time.Since(e.CreatedAt)))
}

func displayStories(stories []models.Story) {
	if len(stories) == 0 {
		return
	}
	fmt.Println("\nStories:")
	for _, s := range stories {
		glyph := color.New(color.Faint).Sprint("·")
		switch s.Status {
		case models.StoryDone:
			glyph = color.GreenString("✓")
		case models.StoryFailed:
			glyph = color.RedString("✗")
		case models.StoryInProgress, models.StoryReview:
			glyph = color.CyanString("→")
		}
		line := fmt.Sprintf("  %s %d.%d %s (%s)", glyph, s.EpicNum, s.StoryNum, s.Title, s.Status)
		if s.ReworkCount > 0 {
			line += fmt.Sprintf(", rework ×%d", s.ReworkCount)
		}
		if s.QualityGates == models.GatesFailed {
			line += ", gates failed"
		}
		fmt.Println(line)
	}
}

func displayCeremonies(ceremonies []models.Ceremony) {
	if len(ceremonies) == 0 {
		return
	}
	fmt.Println("\nCeremonies:")
	for _, c := range ceremonies {
		fmt.Printf("  %s %s (%s, %s ago)\n",
			color.MagentaString("◆"), c.Type, c.Outcome, formatDuration(time.Since(c.HeldAt)))
	}
}

func displayActions(items []models.ActionItem) {
	if len(items) == 0 {
		return
	}
	fmt.Println("\nOpen action items:")
	for _, it := range items {
		fmt.Printf("  [%s] %s\n", it.Priority, it.Description)
	}
}

func statusColor(s string) string {
	switch s {
	case "completed", "done":
		return color.GreenString(s)
	case "failed", "abandoned":
		return color.RedString(s)
	case "active":
		return color.CyanString(s)
	default:
		return s
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
