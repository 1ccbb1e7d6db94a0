package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
)

var (
	initForce      bool
	initWithConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a project for gao-dev",
	Long: `Initialize a directory for use with gao-dev.

This command sets up everything needed to run:
  - Verifies git is available and the agent command is configured
  - Initializes a git repository if needed
  - Creates the .gao-dev directory and state database
  - Optionally creates a project config template

The directory argument is optional and defaults to the current directory.

Examples:
  gao-dev init               # Initialize current directory
  gao-dev init ./myproject   # Initialize specific directory
  gao-dev init --force       # Reinitialize even if already set up
  gao-dev init --with-config # Create a .gao-dev.yaml template`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Create a .gao-dev.yaml template")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	root, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", root, err)
	}

	if err := gitops.GuardSourceTree(root); err != nil {
		return err
	}

	fmt.Printf("Initializing gao-dev in %s...\n\n", root)

	stateDir := filepath.Join(root, ".gao-dev")
	if _, err := os.Stat(stateDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if _, err := exec.LookPath("git"); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return fmt.Errorf("git not found in PATH; install it from https://git-scm.com/downloads")
	}
	printStatus("✓", "Git found", color.FgGreen)

	git := gitops.NewGateway(root)
	isRepo, err := git.IsRepo()
	if err != nil {
		return err
	}
	if !isRepo {
		if err := git.Init(); err != nil {
			return err
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	if err := updateGitignore(root); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	printStatus("✓", "Updated .gitignore", color.FgGreen)

	if err := ensureInitialCommit(root, git); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(stateDir, "logs"), 0755); err != nil {
		return fmt.Errorf("creating .gao-dev directory: %w", err)
	}
	printStatus("✓", "Created .gao-dev directory structure", color.FgGreen)

	s, err := store.OpenProject(root)
	if err != nil {
		return fmt.Errorf("creating state database: %w", err)
	}
	defer s.Close()
	if err := s.Migrate(git); err != nil {
		return fmt.Errorf("migrating state database: %w", err)
	}
	printStatus("✓", "Created state database", color.FgGreen)

	if initWithConfig {
		if err := createProjectConfig(root); err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		printStatus("✓", "Created .gao-dev.yaml template", color.FgGreen)
	}

	fmt.Printf("\n%s gao-dev initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Point gao-dev at your agent:")
	fmt.Println("     export GAODEV_AGENT_COMMAND=your-agent")
	fmt.Println()
	fmt.Println("  2. Run a plan:")
	fmt.Println("     gao-dev run my-feature --scale 2")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     gao-dev --help")
	return nil
}

// ensureInitialCommit guarantees HEAD exists so state commits have a
// parent to pair with.
func ensureInitialCommit(root string, git *gitops.ExecGateway) error {
	sha, err := git.HeadSHA()
	if err != nil {
		return err
	}
	if sha != "" {
		printStatus("✓", "Git repository has commits", color.FgGreen)
		return nil
	}

	if err := git.StageAll(); err != nil {
		return err
	}
	msg, err := gitops.NewCommitMessage("chore", "project", "initialize repository")
	if err != nil {
		return err
	}
	if _, err := git.Commit(msg); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	printStatus("✓", "Created initial commit", color.FgGreen)
	return nil
}

// updateGitignore adds the gao-dev state entries to .gitignore if not
// present. The state database and logs stay out of version control;
// only docs/ artifacts are committed.
func updateGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")

	var existing string
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	entries := []string{
		".gao-dev/",
		"gao-dev",
	}

	needsUpdate := false
	for _, entry := range entries {
		if !strings.Contains(existing, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# gao-dev\n")
	for _, entry := range entries {
		if !strings.Contains(existing, entry) {
			b.WriteString(entry + "\n")
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// createProjectConfig creates a .gao-dev.yaml template.
func createProjectConfig(root string) error {
	path := filepath.Join(root, ".gao-dev.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	template := `# gao-dev project configuration
# This file overrides defaults from ~/.config/gao-dev/config.yaml

# agent:
#   command: gao-agent
#   args: []

# timeouts:
#   step: 30m
#   ceremony: 10m

# safety:
#   standup_cooldown: 12h
#   ceremony_cooldown: 24h
#   max_per_epic: 10

# learning:
#   score_threshold: 0.3
#   max_selected: 5
`
	return os.WriteFile(path, []byte(template), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
