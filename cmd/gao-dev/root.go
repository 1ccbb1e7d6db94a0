package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gao-dev",
	Short: "Autonomous software delivery orchestration",
	Long: `gao-dev orchestrates agent-driven software delivery: it selects a
workflow plan for a piece of work, drives each step through an external
agent, holds agile ceremonies when they are due, and records every state
change in lockstep with a git commit.

Core capabilities:
- Scale-aware workflow plans (chore through greenfield)
- Ceremony triggers with cooldowns, caps, and a failure circuit breaker
- Learnings extracted from retrospectives and fed back into planning
- SQLite state paired 1:1 with conventional commits`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ceremonyCmd)
	rootCmd.AddCommand(learningsCmd)
	rootCmd.AddCommand(versionCmd)
}
