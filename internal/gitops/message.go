package gitops

import (
	"fmt"
	"regexp"
	"strings"
)

// subjectRe is the conventional-commit grammar every core commit must
// satisfy: type(scope): subject.
var subjectRe = regexp.MustCompile(`^(feat|fix|docs|refactor|test|chore|perf)\(([^)]+)\): (.+)$`)

// CommitTypes lists the accepted conventional commit types.
var CommitTypes = []string{"feat", "fix", "docs", "refactor", "test", "chore", "perf"}

// CommitMessage is a validated conventional commit message. Build one
// with NewCommitMessage or Parse; a zero value does not render.
type CommitMessage struct {
	// Type is the conventional commit type (feat, fix, chore, ...).
	Type string
	// Scope is the affected area (epic key, "ceremony", "state", ...).
	Scope string
	// Subject is the one-line description.
	Subject string
	// Trailers are appended verbatim after a blank line, one per line
	// (Co-Authored-By and friends).
	Trailers []string
}

// NewCommitMessage builds and validates a commit message.
func NewCommitMessage(typ, scope, subject string, trailers ...string) (CommitMessage, error) {
	m := CommitMessage{Type: typ, Scope: scope, Subject: subject, Trailers: trailers}
	if err := m.Validate(); err != nil {
		return CommitMessage{}, err
	}
	return m, nil
}

// Validate checks the message against the conventional commit grammar.
func (m CommitMessage) Validate() error {
	if !subjectRe.MatchString(m.headline()) {
		return fmt.Errorf("invalid commit message %q: want type(scope): subject with type in %s",
			m.headline(), strings.Join(CommitTypes, "|"))
	}
	for _, t := range m.Trailers {
		if strings.ContainsRune(t, '\n') {
			return fmt.Errorf("trailer %q spans multiple lines", t)
		}
	}
	return nil
}

func (m CommitMessage) headline() string {
	return fmt.Sprintf("%s(%s): %s", m.Type, m.Scope, m.Subject)
}

// String renders the full message: headline, blank line, trailers.
func (m CommitMessage) String() string {
	if len(m.Trailers) == 0 {
		return m.headline()
	}
	return m.headline() + "\n\n" + strings.Join(m.Trailers, "\n")
}

// ParseCommitMessage parses a raw commit message back into its parts.
// Only the headline is validated; everything after the first blank line
// is treated as trailers.
func ParseCommitMessage(raw string) (CommitMessage, error) {
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	match := subjectRe.FindStringSubmatch(lines[0])
	if match == nil {
		return CommitMessage{}, fmt.Errorf("invalid commit headline %q", lines[0])
	}

	m := CommitMessage{Type: match[1], Scope: match[2], Subject: match[3]}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		m.Trailers = append(m.Trailers, line)
	}
	return m, nil
}
