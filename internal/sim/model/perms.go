package model

import (
	"fmt"
	"sort"
	"strings"
)

// Perm is a permission bitmask evaluated for members and visitors.
type Perm uint32

const (
	PermBreak Perm = 1 << iota
	PermPlace
	PermInteract
	PermTrade
	PermUseDoors
	PermAttackMobs
	PermUseRedstone

	PermNone Perm = 0
	PermAll  Perm = PermBreak | PermPlace | PermInteract | PermTrade | PermUseDoors | PermAttackMobs | PermUseRedstone
)

func (p Perm) Has(bit Perm) bool { return bit != 0 && p&bit == bit }

func (p Perm) With(bit Perm, on bool) Perm {
	if on {
		return p | bit
	}
	return p &^ bit
}

// Action is an actor-initiated operation checked against the permission bits.
type Action string

const (
	ActionBreak       Action = "break"
	ActionPlace       Action = "place"
	ActionInteract    Action = "interact"
	ActionTrade       Action = "trade"
	ActionUseDoors    Action = "use-doors"
	ActionAttackMobs  Action = "attack-mobs"
	ActionUseRedstone Action = "use-redstone"

	// ActionEnter is not a bit: visitors are refused only while the claim is locked.
	ActionEnter Action = "enter"
)

var actionBits = map[Action]Perm{
	ActionBreak:       PermBreak,
	ActionPlace:       PermPlace,
	ActionInteract:    PermInteract,
	ActionTrade:       PermTrade,
	ActionUseDoors:    PermUseDoors,
	ActionAttackMobs:  PermAttackMobs,
	ActionUseRedstone: PermUseRedstone,
}

// Bit resolves an action to its permission bit; ok is false for actions without one.
func (a Action) Bit() (Perm, bool) {
	b, ok := actionBits[a]
	return b, ok
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := actionBits[a]; ok || a == ActionEnter {
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalid, s)
}

type PermScope string

const (
	ScopeVisitor PermScope = "visitor"
	ScopeMember  PermScope = "member"
)

func ParsePermScope(s string) (PermScope, error) {
	switch PermScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeVisitor:
		return ScopeVisitor, nil
	case ScopeMember:
		return ScopeMember, nil
	}
	return "", fmt.Errorf("%w: unknown permission scope %q", ErrInvalid, s)
}

// Rule is a world-event gate toggled per claim. Rules are not actor permissions.
type Rule uint8

const (
	RulePVP Rule = iota
	RuleMobSpawning
	RuleFireSpread
	RuleExplosion
	RuleTNT
	RuleMobGriefing
	RuleLeafDecay
	RuleEntityDrop
	RuleWaterFlow
	RuleExternalFluidInflow
	RuleFly
	RuleAnchorContainerInteraction

	ruleCount
)

// RuleSet stores every rule toggle as one bit.
type RuleSet uint32

type ruleInfo struct {
	key     string
	display string
	def     bool
}

var ruleTable = [ruleCount]ruleInfo{
	RulePVP:                        {"pvp", "PvP", false},
	RuleMobSpawning:                {"mob_spawning", "Mob spawning", true},
	RuleFireSpread:                 {"fire_spread", "Fire spread", false},
	RuleExplosion:                  {"explosion", "Explosions", false},
	RuleTNT:                        {"tnt", "TNT", false},
	RuleMobGriefing:                {"mob_griefing", "Mob griefing", false},
	RuleLeafDecay:                  {"leaf_decay", "Leaf decay", true},
	RuleEntityDrop:                 {"entity_drop", "Entity drops", true},
	RuleWaterFlow:                  {"water_flow", "Water flow", true},
	RuleExternalFluidInflow:        {"external_fluid_inflow", "External fluid inflow", true},
	RuleFly:                        {"fly", "Flight", false},
	RuleAnchorContainerInteraction: {"anchor_container_interaction", "Power cell hopper access", false},
}

func (r Rule) Valid() bool { return r < ruleCount }

func (r Rule) Key() string {
	if !r.Valid() {
		return ""
	}
	return ruleTable[r].key
}

func (r Rule) DisplayName() string {
	if !r.Valid() {
		return ""
	}
	return ruleTable[r].display
}

func (r Rule) String() string { return r.Key() }

// Rules lists every rule in declaration order.
func Rules() []Rule {
	out := make([]Rule, 0, ruleCount)
	for r := Rule(0); r < ruleCount; r++ {
		out = append(out, r)
	}
	return out
}

func ParseRule(s string) (Rule, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for r := Rule(0); r < ruleCount; r++ {
		if ruleTable[r].key == key {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown rule %q", ErrInvalid, s)
}

func (s RuleSet) Get(r Rule) bool { return r.Valid() && s&(1<<r) != 0 }

func (s RuleSet) Set(r Rule, on bool) RuleSet {
	if !r.Valid() {
		return s
	}
	if on {
		return s | 1<<r
	}
	return s &^ (1 << r)
}

func (s RuleSet) Toggle(r Rule) RuleSet { return s.Set(r, !s.Get(r)) }

// Map renders the set keyed by rule key.
func (s RuleSet) Map() map[string]bool {
	out := make(map[string]bool, ruleCount)
	for r := Rule(0); r < ruleCount; r++ {
		out[ruleTable[r].key] = s.Get(r)
	}
	return out
}

// RuleSetFromMap builds a set starting from defaults and applying the given keys.
func RuleSetFromMap(m map[string]bool) (RuleSet, error) {
	s := DefaultRules()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r, err := ParseRule(k)
		if err != nil {
			return 0, err
		}
		s = s.Set(r, m[k])
	}
	return s, nil
}

func DefaultRules() RuleSet {
	var s RuleSet
	for r := Rule(0); r < ruleCount; r++ {
		s = s.Set(r, ruleTable[r].def)
	}
	return s
}
