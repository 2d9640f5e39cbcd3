package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/personality"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	Long: `List agents from the config with the profile, acceptance threshold,
and cycle interval derived from each personality.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Agents) == 0 {
			fmt.Println("No agents configured.")
			return nil
		}

		for _, ac := range cfg.Agents {
			out, err := renderAgent(cfg, ac)
			if err != nil {
				fmt.Printf("%s\n  error: %v\n\n", ac.ID, err)
				continue
			}
			fmt.Println(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func renderAgent(cfg *config.Config, ac config.AgentConfig) (string, error) {
	p, interval, err := agentProfile(cfg, ac)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ac.ID)
	if p.DisplayName != "" && p.DisplayName != ac.ID {
		fmt.Fprintf(&b, "  Name:       %s\n", p.DisplayName)
	}
	fmt.Fprintf(&b, "  Risk:       %s (threshold %.2f)\n", p.RiskProfile, p.Threshold())
	fmt.Fprintf(&b, "  Horizon:    %s\n", p.TimeHorizon)
	fmt.Fprintf(&b, "  Learning:   %s\n", p.LearningStyle)
	if p.CompetitionApproach != "" {
		fmt.Fprintf(&b, "  Approach:   %s\n", p.CompetitionApproach)
	}
	fmt.Fprintf(&b, "  Interval:   %s\n", formatDuration(interval))
	if w := formatWeights(p); w != "" {
		fmt.Fprintf(&b, "  Weights:    %s\n", w)
	}
	return b.String(), nil
}

func formatWeights(p personality.Profile) string {
	if len(p.StrategicWeights) == 0 {
		return ""
	}
	names := make([]string, 0, len(p.StrategicWeights))
	for n := range p.StrategicWeights {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%.2f", n, p.StrategicWeights[n])
	}
	return strings.Join(parts, " ")
}
