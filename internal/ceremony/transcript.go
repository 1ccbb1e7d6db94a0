// Package ceremony runs structured team interactions through the agent
// runner: it gates them with safety limits, builds their context,
// parses their transcripts, and records the results.
package ceremony

import (
	"fmt"
	"strings"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Transcript is the structured content parsed from a ceremony's raw
// markdown output.
type Transcript struct {
	// Summary is the "## Summary" section body.
	Summary string
	// Decisions are the bullets under "## Decisions".
	Decisions []string
	// ActionItems are the parsed "## Action Items" bullets.
	ActionItems []models.ActionItem
	// Learnings are the parsed "## Learnings" bullets.
	Learnings []models.Learning
	// Problems lists non-fatal parse issues. A transcript with problems
	// is usable but degrades the ceremony outcome to partial.
	Problems []string
}

// Degraded reports whether the transcript is missing required content
// or had parse problems.
func (t *Transcript) Degraded() bool {
	return t.Summary == "" || len(t.Problems) > 0
}

// ParseTranscript extracts the known sections from a raw markdown
// transcript. Unknown sections are ignored. It fails only when the
// transcript contains no recognizable section at all; malformed bullets
// inside a known section are collected as problems instead.
func ParseTranscript(raw string) (*Transcript, error) {
	t := &Transcript{}
	section := ""
	recognized := false
	var summary []string

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			section = strings.ToLower(strings.TrimSpace(trimmed[3:]))
			if section == "summary" || section == "decisions" || section == "action items" || section == "learnings" {
				recognized = true
			}
			continue
		}

		switch section {
		case "summary":
			if trimmed != "" {
				summary = append(summary, trimmed)
			}
		case "decisions":
			if body, ok := bulletBody(trimmed); ok {
				t.Decisions = append(t.Decisions, body)
			}
		case "action items":
			if body, ok := bulletBody(trimmed); ok {
				item, err := parseActionItem(body)
				if err != nil {
					t.Problems = append(t.Problems, err.Error())
					continue
				}
				t.ActionItems = append(t.ActionItems, item)
			}
		case "learnings":
			if body, ok := bulletBody(trimmed); ok {
				l, err := parseLearning(body)
				if err != nil {
					t.Problems = append(t.Problems, err.Error())
					continue
				}
				t.Learnings = append(t.Learnings, l)
			}
		}
	}

	if !recognized {
		return nil, fmt.Errorf("transcript has no recognizable sections")
	}
	t.Summary = strings.Join(summary, " ")
	return t, nil
}

func bulletBody(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// parseActionItem reads "[priority] description" bullets.
func parseActionItem(body string) (models.ActionItem, error) {
	marker, rest, err := splitMarker(body)
	if err != nil {
		return models.ActionItem{}, fmt.Errorf("action item %q: %w", body, err)
	}
	priority := models.ActionPriority(marker)
	if !priority.Valid() {
		return models.ActionItem{}, fmt.Errorf("action item %q: unknown priority %q", body, marker)
	}
	if rest == "" {
		return models.ActionItem{}, fmt.Errorf("action item %q: empty description", body)
	}
	return models.ActionItem{Priority: priority, Description: rest}, nil
}

// parseLearning reads "[category] text (tags: a, b)" bullets. The tags
// suffix is optional.
func parseLearning(body string) (models.Learning, error) {
	marker, rest, err := splitMarker(body)
	if err != nil {
		return models.Learning{}, fmt.Errorf("learning %q: %w", body, err)
	}
	category := models.LearningCategory(marker)
	if !category.Valid() {
		return models.Learning{}, fmt.Errorf("learning %q: unknown category %q", body, marker)
	}

	var tags []string
	if open := strings.LastIndex(rest, "(tags:"); open >= 0 && strings.HasSuffix(rest, ")") {
		raw := rest[open+len("(tags:") : len(rest)-1]
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		rest = strings.TrimSpace(rest[:open])
	}
	if rest == "" {
		return models.Learning{}, fmt.Errorf("learning %q: empty text", body)
	}
	return models.Learning{Category: category, Text: rest, Tags: tags}, nil
}

func splitMarker(body string) (marker, rest string, err error) {
	if !strings.HasPrefix(body, "[") {
		return "", "", fmt.Errorf("missing [marker]")
	}
	end := strings.Index(body, "]")
	if end < 0 {
		return "", "", fmt.Errorf("unterminated [marker]")
	}
	return strings.TrimSpace(body[1:end]), strings.TrimSpace(body[end+1:]), nil
}
