package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/selector"
	"github.com/marcus/taskpilot/internal/state"
	"github.com/marcus/taskpilot/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agents and task history",
	Long: `Display each agent recorded in the journal with its interval,
per-task execution history, and how many cycles were skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")

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

		ctx := context.Background()
		agents, err := journal.Agents(ctx)
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("No agents recorded yet. Start the daemon to register them.")
			return nil
		}

		now := time.Now()
		for _, a := range agents {
			if agentID != "" && a.ID != agentID {
				continue
			}
			history, err := journal.LoadTaskHistory(ctx, a.ID)
			if err != nil {
				return err
			}
			skips, err := journal.SkipCount(ctx, a.ID)
			if err != nil {
				return err
			}
			fmt.Print(renderAgentStatus(a, history, skips, cfg.Selection, now))
			fmt.Println()
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("agent", "a", "", "Only show this agent")
	rootCmd.AddCommand(statusCmd)
}

func renderAgentStatus(a state.AgentRecord, history map[tasks.TaskType]selector.TaskHistoryEntry, skips int, cooldowns selector.CooldownTable, now time.Time) string {
	var b strings.Builder

	name := a.ID
	if a.Name != "" && a.Name != a.ID {
		name = fmt.Sprintf("%s (%s)", a.ID, a.Name)
	}
	fmt.Fprintf(&b, "%s\n", name)
	fmt.Fprintf(&b, "  Profile:   %s / %s\n", a.RiskProfile, a.TimeHorizon)
	fmt.Fprintf(&b, "  Interval:  %s\n", formatDuration(a.Interval))
	fmt.Fprintf(&b, "  Since:     %s\n", a.RegisteredAt.Local().Format("2006-01-02 15:04"))
	if skips > 0 {
		fmt.Fprintf(&b, "  Skipped:   %d cycles\n", skips)
	}

	if len(history) == 0 {
		b.WriteString("  No tasks executed yet.\n")
		return b.String()
	}

	types := make([]tasks.TaskType, 0, len(history))
	for t := range history {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	fmt.Fprintf(&b, "  %-22s %5s %8s %8s  %-14s %s\n", "TASK", "RUNS", "SUCCESS", "AVG", "LAST", "COOLDOWN")
	for _, t := range types {
		h := history[t]
		fmt.Fprintf(&b, "  %-22s %5d %7.0f%% %8.3f  %-14s %s\n",
			t, h.Executions, h.AvgSuccess()*100, h.AvgPerformance,
			formatAgo(h.LastExecuted, now), cooldownLeft(h, cooldowns.CooldownFor(string(t)), now))
	}
	return b.String()
}

func cooldownLeft(h selector.TaskHistoryEntry, cooldown time.Duration, now time.Time) string {
	if h.LastExecuted.IsZero() {
		return "ready"
	}
	left := h.LastExecuted.Add(cooldown).Sub(now)
	if left <= 0 {
		return "ready"
	}
	return formatDuration(left.Round(time.Second))
}
