package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/gao-dev/pkg/models"
)

var ceremonyType string

var ceremonyCmd = &cobra.Command{
	Use:   "ceremony",
	Short: "Hold or list ceremonies",
}

var ceremonyHoldCmd = &cobra.Command{
	Use:   "hold <epic>",
	Short: "Hold a ceremony for an epic",
	Long: `Hold a ceremony outside a plan run. Manual holds bypass the cooldown
but still count against the per-epic cap, and an open circuit breaker
still refuses.

Examples:
  gao-dev ceremony hold 3 --type standup
  gao-dev ceremony hold 3 --type retrospective`,
	Args: cobra.ExactArgs(1),
	RunE: runCeremonyHold,
}

var ceremonyListCmd = &cobra.Command{
	Use:   "list <epic>",
	Short: "List an epic's ceremonies",
	Args:  cobra.ExactArgs(1),
	RunE:  runCeremonyList,
}

func init() {
	ceremonyHoldCmd.Flags().StringVar(&ceremonyType, "type", "standup", "Ceremony type: planning, standup, retrospective")
	ceremonyCmd.AddCommand(ceremonyHoldCmd)
	ceremonyCmd.AddCommand(ceremonyListCmd)
}

func runCeremonyHold(cmd *cobra.Command, args []string) error {
	epicNum, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid epic number %q", args[0])
	}
	t := models.CeremonyType(ceremonyType)
	if !t.Valid() {
		return fmt.Errorf("invalid ceremony type %q", ceremonyType)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	cer, err := eng.orch.HoldCeremony(cmd.Context(), epicNum, t)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s ceremony held for epic %d (%s)\n",
		color.MagentaString("◆"), cer.Type, cer.EpicNum, cer.Outcome)
	if cer.Summary != "" {
		fmt.Printf("  %s\n", cer.Summary)
	}
	if cer.CommitSHA != "" {
		fmt.Printf("  commit %s\n", shortSHA(cer.CommitSHA))
	}
	return nil
}

func runCeremonyList(cmd *cobra.Command, args []string) error {
	epicNum, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid epic number %q", args[0])
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ceremonies, err := eng.state.ListCeremonies(epicNum)
	if err != nil {
		return err
	}
	if len(ceremonies) == 0 {
		fmt.Printf("No ceremonies for epic %d.\n", epicNum)
		return nil
	}

	for _, c := range ceremonies {
		line := fmt.Sprintf("%s  %-13s %-8s", c.HeldAt.Format("2006-01-02 15:04"), c.Type, c.Outcome)
		if c.MidEpic {
			line += "  mid-epic"
		}
		if c.Summary != "" {
			line += "  " + c.Summary
		}
		fmt.Println(line)
	}
	return nil
}
