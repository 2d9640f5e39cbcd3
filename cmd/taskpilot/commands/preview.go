package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/selector"
	"github.com/marcus/taskpilot/internal/tasks"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview the next selection for an agent",
	Long: `Run one agent's scoring pipeline and selection policy without executing
anything. Shows every candidate's score at each stage and the verdict.

Task history comes from the journal, so cooldowns match what the daemon sees.`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringP("agent", "a", "", "Agent id (default: first configured agent)")
	previewCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(previewCmd)
}

type previewStyles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Accent  lipgloss.Style
}

func newPreviewStyles() previewStyles {
	return previewStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		OK:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Accent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
	}
}

// previewResult is the preview command's JSON shape.
type previewResult struct {
	AgentID    string             `json:"agent_id"`
	Interval   string             `json:"interval"`
	Threshold  float64            `json:"threshold"`
	Outcome    string             `json:"outcome"`
	RejectedAt string             `json:"rejected_at,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Selected   string             `json:"selected,omitempty"`
	Cooldown   string             `json:"cooldown_remaining,omitempty"`
	Candidates []previewCandidate `json:"candidates"`
}

type previewCandidate struct {
	TaskType       string   `json:"task_type"`
	Category       string   `json:"category"`
	Unbound        bool     `json:"unbound,omitempty"`
	BaseScore      float64  `json:"base_score"`
	ModulatedScore float64  `json:"modulated_score"`
	Multiplier     float64  `json:"multiplier"`
	Projected      float64  `json:"projected_reward"`
	FinalScore     float64  `json:"final_score"`
	Confidence     float64  `json:"confidence"`
	Recommendation string   `json:"recommendation"`
	Reasons        []string `json:"reasons,omitempty"`
}

func runPreview(cmd *cobra.Command, args []string) error {
	agentID, _ := cmd.Flags().GetString("agent")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initConsoleLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ac, err := pickAgent(cfg, agentID)
	if err != nil {
		return err
	}

	catalog, err := buildCatalog(cfg, tasks.ExecRunner{})
	if err != nil {
		return err
	}
	unbound := make(map[tasks.TaskType]bool)
	for _, t := range bindPlaceholders(catalog, cfg) {
		unbound[t] = true
	}

	database, journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	ctx := context.Background()
	engine := buildEngine(cfg, catalog, journal, nil)
	if err := engine.RegisterConfig(ctx, ac); err != nil {
		return err
	}
	verdict, err := engine.Evaluate(ctx, ac.ID)
	if err != nil {
		return err
	}
	snap, err := engine.Snapshot(ac.ID)
	if err != nil {
		return err
	}

	result := buildPreviewResult(ac.ID, snap.Interval, verdict, unbound)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Print(renderPreviewText(result, snap.Profile))
	return nil
}

func pickAgent(cfg *config.Config, id string) (config.AgentConfig, error) {
	if len(cfg.Agents) == 0 {
		return config.AgentConfig{}, fmt.Errorf("no agents configured")
	}
	if id == "" {
		return cfg.Agents[0], nil
	}
	ac, ok := cfg.Agent(id)
	if !ok {
		return config.AgentConfig{}, fmt.Errorf("%w: %s", selector.ErrAgentNotFound, id)
	}
	return ac, nil
}

func buildPreviewResult(agentID string, interval time.Duration, v selector.Verdict, unbound map[tasks.TaskType]bool) previewResult {
	r := previewResult{
		AgentID:    agentID,
		Interval:   interval.String(),
		Threshold:  v.Threshold,
		Outcome:    string(v.Outcome),
		RejectedAt: string(v.RejectedAt),
		Reason:     v.Reason,
		Candidates: make([]previewCandidate, 0, len(v.Ranked)),
	}
	if v.Selected != nil {
		r.Selected = string(v.Selected.Type())
	}
	if v.CooldownRemaining > 0 {
		r.Cooldown = v.CooldownRemaining.Round(time.Second).String()
	}
	for _, ev := range v.Ranked {
		r.Candidates = append(r.Candidates, previewCandidate{
			TaskType:       string(ev.Type()),
			Category:       ev.Candidate.Definition.Category.String(),
			Unbound:        unbound[ev.Type()],
			BaseScore:      ev.BaseScore,
			ModulatedScore: ev.ModulatedScore,
			Multiplier:     ev.Multiplier,
			Projected:      ev.ProjectedReward,
			FinalScore:     ev.FinalScore,
			Confidence:     ev.Confidence,
			Recommendation: ev.Recommendation,
			Reasons:        ev.Reasons,
		})
	}
	return r
}

var previewColumns = []struct {
	title string
	width int
}{
	{"#", 3},
	{"TASK", 22},
	{"BASE", 7},
	{"MOD", 7},
	{"PROJ", 7},
	{"FINAL", 7},
	{"CONF", 6},
	{"REC", 10},
}

func renderPreviewText(r previewResult, p personality.Profile) string {
	styles := newPreviewStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Taskpilot Preview"))
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("Scores every candidate as the next cycle would. Nothing is executed or recorded."))
	b.WriteString("\n\n")

	b.WriteString(styles.Section.Render("Agent"))
	b.WriteString("\n")
	writeField(&b, styles, "ID", r.AgentID)
	if p.DisplayName != "" {
		writeField(&b, styles, "Name", p.DisplayName)
	}
	writeField(&b, styles, "Risk profile", string(p.RiskProfile))
	writeField(&b, styles, "Time horizon", string(p.TimeHorizon))
	writeField(&b, styles, "Interval", r.Interval)
	writeField(&b, styles, "Threshold", fmt.Sprintf("%.2f", r.Threshold))
	b.WriteString("\n")

	b.WriteString(styles.Section.Render("Candidates"))
	b.WriteString("\n")
	if len(r.Candidates) == 0 {
		b.WriteString(styles.Warn.Render("  no candidates available"))
		b.WriteString("\n")
	} else {
		cells := make([]string, len(previewColumns))
		for i, col := range previewColumns {
			cells[i] = lipgloss.NewStyle().Width(col.width).Render(col.title)
		}
		b.WriteString("  " + styles.Label.Render(strings.Join(cells, " ")) + "\n")

		for i, c := range r.Candidates {
			name := c.TaskType
			if c.Unbound {
				name += "*"
			}
			row := []string{
				fmt.Sprintf("%d", i+1),
				name,
				fmt.Sprintf("%.3f", c.BaseScore),
				fmt.Sprintf("%.3f", c.ModulatedScore),
				fmt.Sprintf("%.3f", c.Projected),
				fmt.Sprintf("%.3f", c.FinalScore),
				fmt.Sprintf("%.2f", c.Confidence),
				c.Recommendation,
			}
			for j, col := range previewColumns {
				row[j] = lipgloss.NewStyle().Width(col.width).Render(row[j])
			}
			line := strings.Join(row, " ")
			if c.TaskType == r.Selected && r.Outcome == string(selector.StageAccepted) {
				line = styles.OK.Render(line)
			} else {
				line = styles.Value.Render(line)
			}
			b.WriteString("  " + line + "\n")
		}
		if hasUnbound(r.Candidates) {
			b.WriteString(styles.Muted.Render("  * no command configured; would fail if selected"))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(styles.Section.Render("Verdict"))
	b.WriteString("\n")
	if r.Outcome == string(selector.StageAccepted) {
		writeField(&b, styles, "Outcome", styles.OK.Render("ACCEPTED"))
		writeField(&b, styles, "Would run", styles.Accent.Render(r.Selected))
	} else {
		writeField(&b, styles, "Outcome", styles.Warn.Render("NO_ACTION"))
		if r.RejectedAt != "" {
			writeField(&b, styles, "Rejected at", r.RejectedAt)
		}
		writeField(&b, styles, "Reason", r.Reason)
		if r.Selected != "" {
			writeField(&b, styles, "Top candidate", r.Selected)
		}
		if r.Cooldown != "" {
			writeField(&b, styles, "Cooldown left", r.Cooldown)
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, styles previewStyles, label, value string) {
	b.WriteString("  ")
	b.WriteString(styles.Label.Render(label + ":"))
	b.WriteString(" ")
	b.WriteString(styles.Value.Render(value))
	b.WriteString("\n")
}

func hasUnbound(cs []previewCandidate) bool {
	for _, c := range cs {
		if c.Unbound {
			return true
		}
	}
	return false
}
