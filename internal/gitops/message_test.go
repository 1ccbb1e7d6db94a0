package gitops

import (
	"strings"
	"testing"
)

func TestNewCommitMessage(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		scope   string
		subject string
		wantErr bool
	}{
		{"feat with story scope", "feat", "3.2", "implement session refresh", false},
		{"chore state scope", "chore", "state", "record ceremony outcome", false},
		{"docs ceremony scope", "docs", "ceremony", "add retrospective transcript", false},
		{"unknown type", "feature", "3.2", "implement session refresh", true},
		{"empty scope", "feat", "", "implement session refresh", true},
		{"empty subject", "feat", "3.2", "", true},
		{"scope with paren", "feat", "a)b", "subject", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommitMessage(tt.typ, tt.scope, tt.subject)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommitMessage(%q, %q, %q) error = %v, wantErr %v",
					tt.typ, tt.scope, tt.subject, err, tt.wantErr)
			}
		})
	}
}

func TestCommitMessageString(t *testing.T) {
	m, err := NewCommitMessage("feat", "2.1", "add login form",
		"Co-Authored-By: dev-agent <agents@gao-dev.local>")
	if err != nil {
		t.Fatalf("NewCommitMessage failed: %v", err)
	}

	got := m.String()
	want := "feat(2.1): add login form\n\nCo-Authored-By: dev-agent <agents@gao-dev.local>"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCommitMessageString_NoTrailers(t *testing.T) {
	m, err := NewCommitMessage("chore", "state", "expire stale action items")
	if err != nil {
		t.Fatalf("NewCommitMessage failed: %v", err)
	}
	if got := m.String(); got != "chore(state): expire stale action items" {
		t.Errorf("String() = %q, want headline only", got)
	}
}

func TestCommitMessage_RejectsMultilineTrailer(t *testing.T) {
	_, err := NewCommitMessage("feat", "1.1", "subject", "Co-Authored-By: a\nCo-Authored-By: b")
	if err == nil {
		t.Error("NewCommitMessage accepted a multiline trailer")
	}
}

func TestParseCommitMessage(t *testing.T) {
	raw := "fix(4.3): handle empty transcript\n\nCo-Authored-By: qa-agent <agents@gao-dev.local>\n"
	m, err := ParseCommitMessage(raw)
	if err != nil {
		t.Fatalf("ParseCommitMessage failed: %v", err)
	}

	if m.Type != "fix" || m.Scope != "4.3" || m.Subject != "handle empty transcript" {
		t.Errorf("parsed %+v, want fix(4.3): handle empty transcript", m)
	}
	if len(m.Trailers) != 1 || !strings.HasPrefix(m.Trailers[0], "Co-Authored-By:") {
		t.Errorf("trailers = %v, want one Co-Authored-By", m.Trailers)
	}

	// Round trip.
	back, err := ParseCommitMessage(m.String())
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if back.String() != m.String() {
		t.Errorf("round trip = %q, want %q", back.String(), m.String())
	}
}

func TestParseCommitMessage_RejectsPlainSubject(t *testing.T) {
	if _, err := ParseCommitMessage("updated stuff"); err == nil {
		t.Error("ParseCommitMessage accepted a non-conventional headline")
	}
}
