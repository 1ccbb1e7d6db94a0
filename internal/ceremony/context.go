package ceremony

import (
	"fmt"
	"strings"

	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// buildContext renders the markdown document handed to the agent as
// ceremony context: epic progress, open action items, and the selected
// learnings.
func (o *Orchestrator) buildContext(epic *models.Epic, typ models.CeremonyType) (string, error) {
	stories, err := o.state.ListStories(epic.EpicNum)
	if err != nil {
		return "", err
	}
	open, err := o.state.ListOpenActionItems(epic.EpicNum)
	if err != nil {
		return "", err
	}
	scored, err := o.learnings.Select(learning.Request{
		ScaleLevel:  epic.ScaleLevel,
		ProjectType: epic.ProjectType,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s ceremony: epic %d (%s)\n\n", typ, epic.EpicNum, epic.FeatureName)
	fmt.Fprintf(&b, "Scale level %d, %d/%d stories completed, status %s.\n\n",
		int(epic.ScaleLevel), epic.StoriesCompleted, epic.TotalStories, epic.Status)

	if len(stories) > 0 {
		b.WriteString("## Stories\n\n")
		for i := range stories {
			s := &stories[i]
			fmt.Fprintf(&b, "- %s %s: %s", s.Key(), s.Title, s.Status)
			if s.ReworkCount > 0 {
				fmt.Fprintf(&b, " (rework x%d)", s.ReworkCount)
			}
			if s.QualityGates != models.GatesUnknown {
				fmt.Fprintf(&b, " (gates %s)", s.QualityGates)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(open) > 0 {
		b.WriteString("## Open action items\n\n")
		for _, item := range open {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Priority, item.Description)
		}
		b.WriteString("\n")
	}

	if len(scored) > 0 {
		b.WriteString("## Relevant learnings\n\n")
		for _, s := range scored {
			fmt.Fprintf(&b, "- [%s] %s (score %.2f)\n", s.Learning.Category, s.Learning.Text, s.Score)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}
