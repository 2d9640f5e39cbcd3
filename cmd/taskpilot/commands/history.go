package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/selector"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent decisions",
	Long: `Display the most recent decisions from the journal, newest first.

Without --agent, decisions from every agent are shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		n, _ := cmd.Flags().GetInt("last")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := initConsoleLogging(cfg); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}

		database, journal, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()

		decisions, err := journal.RecentDecisions(context.Background(), agentID, n)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(decisions)
		}

		if len(decisions) == 0 {
			fmt.Println("No decisions recorded.")
			return nil
		}
		for _, d := range decisions {
			fmt.Println(formatDecision(d))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringP("agent", "a", "", "Only show this agent")
	historyCmd.Flags().IntP("last", "n", 20, "Show last N decisions")
	historyCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(historyCmd)
}

func formatDecision(d selector.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-10s %-13s", d.Timestamp.Local().Format("2006-01-02 15:04:05"), d.AgentID, formatKind(d.Kind))

	switch d.Kind {
	case selector.KindNoAction:
		b.WriteString(" " + d.Reason)
		if d.TaskType != "" {
			fmt.Fprintf(&b, " (top: %s)", d.TaskType)
		}
	default:
		fmt.Fprintf(&b, " %s projected=%.3f actual=%.3f conf=%.2f in %s",
			d.TaskType, d.ProjectedPerformance, d.ActualPerformance, d.Confidence, formatDuration(d.Duration))
		if d.Error != "" {
			fmt.Fprintf(&b, " error=%s", d.Error)
		}
	}
	return b.String()
}

func formatKind(k selector.DecisionKind) string {
	switch k {
	case selector.KindExecuteTask:
		return "EXECUTED"
	case selector.KindTaskFailed:
		return "FAILED"
	case selector.KindNoAction:
		return "NO_ACTION"
	default:
		return strings.ToUpper(string(k))
	}
}
