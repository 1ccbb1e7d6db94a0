package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/gao-dev/pkg/models"
)

var learningsCategory string

var learningsCmd = &cobra.Command{
	Use:   "learnings",
	Short: "List accumulated learnings",
	Long: `List the learnings extracted from retrospectives, newest first.
Superseded learnings are hidden.`,
	RunE: runLearnings,
}

func init() {
	learningsCmd.Flags().StringVar(&learningsCategory, "category", "", "Filter by category: quality, process, architectural, operational")
}

func runLearnings(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	learnings, err := eng.state.ActiveLearnings()
	if err != nil {
		return err
	}
	if learningsCategory != "" {
		filtered := learnings[:0]
		for _, l := range learnings {
			if l.Category == models.LearningCategory(learningsCategory) {
				filtered = append(filtered, l)
			}
		}
		learnings = filtered
	}

	if len(learnings) == 0 {
		fmt.Println("No learnings yet. They accumulate from retrospectives.")
		return nil
	}

	for _, l := range learnings {
		fmt.Printf("%s %s  %s\n",
			color.CyanString("#%d", l.ID), categoryBadge(l.Category), l.Text)
		line := fmt.Sprintf("     confidence %.2f", l.ConfidenceScore)
		if l.ApplicationCount > 0 {
			line += fmt.Sprintf(", applied %d× (%.0f%% success)", l.ApplicationCount, l.SuccessRate*100)
		}
		if len(l.Tags) > 0 {
			line += ", tags: " + strings.Join(l.Tags, ", ")
		}
		fmt.Println(color.New(color.Faint).Sprint(line))
	}
	return nil
}

func categoryBadge(c models.LearningCategory) string {
	switch c {
	case models.CategoryQuality:
		return color.GreenString("[quality]")
	case models.CategoryProcess:
		return color.YellowString("[process]")
	case models.CategoryArchitectural:
		return color.MagentaString("[architectural]")
	case models.CategoryOperational:
		return color.CyanString("[operational]")
	default:
		return fmt.Sprintf("[%s]", c)
	}
}
