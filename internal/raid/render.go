package raid

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"raidline/internal/domain"
)

func (c *Coordinator) renderSignup(rec domain.EventRecord, remaining time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s led by <@%s>\n", c.cfg.DungeonName(rec.Dungeon), rec.Kind, rec.StartedBy)
	switch rec.Phase {
	case domain.PhaseSignup:
		fmt.Fprintf(&b, "Signup closes in %s.\n", formatRemaining(remaining))
	case domain.PhaseGrace:
		fmt.Fprintf(&b, "Signup is over. React %s to be moved in, %s left.\n", c.cfg.Label(c.cfg.Raid.AdmissionSignal), formatRemaining(remaining))
	case domain.PhaseActive:
		b.WriteString("Raid is running.\n")
	}
	for _, kind := range sortedKinds(rec.SignalCaps) {
		fmt.Fprintf(&b, "%s: %d/%d\n", c.cfg.Label(kind), rec.CountSignals(kind), rec.SignalCaps[kind])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Coordinator) renderControl(rec domain.EventRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Control panel for %s %s (%s)\n", c.cfg.DungeonName(rec.Dungeon), rec.Kind, rec.ID)
	fmt.Fprintf(&b, "Phase: %s\n", rec.Phase)
	if rec.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", rec.Location)
	}
	for _, kind := range sortedKinds(rec.SignalCaps) {
		if holders := rec.Holders(kind); len(holders) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", c.cfg.Label(kind), mentions(holders))
		}
	}
	if len(rec.Participants) > 0 {
		fmt.Fprintf(&b, "Present: %d\n", len(rec.Participants))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Coordinator) renderClosed(rec domain.EventRecord, reactions map[string][]string) string {
	var b strings.Builder
	name := c.cfg.DungeonName(rec.Dungeon)
	switch rec.Outcome {
	case domain.OutcomeAborted:
		fmt.Fprintf(&b, "%s %s was aborted.", name, rec.Kind)
	default:
		fmt.Fprintf(&b, "%s %s has ended.", name, rec.Kind)
	}
	if rec.Kind == domain.KindRaid && rec.Outcome == domain.OutcomeCompleted {
		fmt.Fprintf(&b, " %d participants were credited.", len(rec.Participants))
	}
	if rec.Kind == domain.KindHeadcount && len(reactions) > 0 {
		kinds := make([]string, 0, len(reactions))
		for kind := range reactions {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(&b, "\n%s: %d", c.cfg.Label(kind), len(reactions[kind]))
		}
	}
	return b.String()
}

func (c *Coordinator) renderPrompt(rec domain.EventRecord, kind string) string {
	return fmt.Sprintf("You reacted %s to the %s %s. Confirm you will bring it?", c.cfg.Label(kind), c.cfg.DungeonName(rec.Dungeon), rec.Kind)
}

func (c *Coordinator) renderLocation(rec domain.EventRecord) string {
	return fmt.Sprintf("The location for %s is: %s", c.cfg.DungeonName(rec.Dungeon), rec.Location)
}

func sortedKinds(caps map[string]int) []string {
	kinds := make([]string, 0, len(caps))
	for kind := range caps {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func mentions(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<@" + id + ">"
	}
	return strings.Join(out, " ")
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
