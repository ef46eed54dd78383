// Package planner derives event quantities from configuration. Everything
// here is a pure function of its inputs.
package planner

import (
	"slices"
	"time"
)

// KindRule caps one signal kind. Cap <= 0 means the kind is uncapped
// and never goes through confirmation.
type KindRule struct {
	Cap           int
	HighDemandCap int
}

type Dungeon struct {
	Category   string
	HighDemand bool
	// Allowed lists the signal kinds this dungeon accepts. Empty allows all.
	Allowed []string
}

type Planner struct {
	GraceBase time.Duration
	GraceStep time.Duration
	Kinds     map[string]KindRule
	Dungeons  map[string]Dungeon
}

// GracePeriodDuration shrinks the post-signup window as the group grows.
// Nobody present means there is nothing to wait for.
func (p Planner) GracePeriodDuration(present int) time.Duration {
	if present <= 0 {
		return 0
	}
	d := p.GraceBase - time.Duration(present)*p.GraceStep
	if d < 0 {
		return 0
	}
	return d
}

// SignalCap returns how many participants may hold kind in dungeon.
// Zero means the kind is not accepted as a signal there.
func (p Planner) SignalCap(dungeon, kind string) int {
	rule, ok := p.Kinds[kind]
	if !ok || rule.Cap <= 0 {
		return 0
	}
	d, known := p.Dungeons[dungeon]
	if known && len(d.Allowed) > 0 && !slices.Contains(d.Allowed, kind) {
		return 0
	}
	if known && d.HighDemand && rule.HighDemandCap > 0 && rule.HighDemandCap < rule.Cap {
		return rule.HighDemandCap
	}
	return rule.Cap
}

// SignalCaps builds the cap table for a new event. Kinds in deny are left
// out even when the dungeon allows them.
func (p Planner) SignalCaps(dungeon string, deny []string) map[string]int {
	caps := make(map[string]int)
	for kind := range p.Kinds {
		if slices.Contains(deny, kind) {
			continue
		}
		if n := p.SignalCap(dungeon, kind); n > 0 {
			caps[kind] = n
		}
	}
	return caps
}

// Category returns the credit category for dungeon, falling back to its name.
func (p Planner) Category(dungeon string) string {
	if d, ok := p.Dungeons[dungeon]; ok && d.Category != "" {
		return d.Category
	}
	return dungeon
}
