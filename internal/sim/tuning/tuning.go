package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voxelclaims.ai/internal/sim/model"
)

type DrainMode string

const (
	DrainUnanchored DrainMode = "unanchored"
	DrainAll        DrainMode = "all"
)

type Tuning struct {
	CellSize       int `yaml:"cell_size"`
	TickIntervalMs int `yaml:"tick_interval_ms"`

	PricePerSecond      float64   `yaml:"price_per_second"`
	InitialGraceSeconds int64     `yaml:"initial_grace_seconds"`
	DrainMode           DrainMode `yaml:"drain_mode"`
	EconomyEnabled      bool      `yaml:"economy_enabled"`

	InviteTTLSeconds       int `yaml:"invite_ttl_seconds"`
	DissolveConfirmSeconds int `yaml:"dissolve_confirm_seconds"`

	DefaultVisitorPerms uint32          `yaml:"default_visitor_perms"`
	DefaultMemberPerms  uint32          `yaml:"default_member_perms"`
	DefaultRules        map[string]bool `yaml:"default_rules"`

	StoreQueueSize int `yaml:"store_queue_size"`
}

func Defaults() Tuning {
	return Tuning{
		CellSize:               16,
		TickIntervalMs:         1000,
		PricePerSecond:         0.1,
		InitialGraceSeconds:    600,
		DrainMode:              DrainUnanchored,
		EconomyEnabled:         true,
		InviteTTLSeconds:       300,
		DissolveConfirmSeconds: 10,
		DefaultVisitorPerms:    uint32(model.PermNone),
		DefaultMemberPerms:     uint32(model.PermAll),
		StoreQueueSize:         4096,
	}
}

// Load reads path over the defaults; keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.CellSize <= 0 {
		return fmt.Errorf("cell_size must be > 0")
	}
	if t.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if t.PricePerSecond <= 0 {
		return fmt.Errorf("price_per_second must be > 0")
	}
	if t.InitialGraceSeconds < 0 {
		return fmt.Errorf("initial_grace_seconds must be >= 0")
	}
	switch t.DrainMode {
	case DrainUnanchored, DrainAll:
	default:
		return fmt.Errorf("drain_mode %q: want unanchored or all", t.DrainMode)
	}
	if t.DefaultVisitorPerms&^uint32(model.PermAll) != 0 || t.DefaultMemberPerms&^uint32(model.PermAll) != 0 {
		return fmt.Errorf("default permission bits out of range")
	}
	if _, err := model.RuleSetFromMap(t.DefaultRules); err != nil {
		return err
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t Tuning) InviteTTL() time.Duration {
	return time.Duration(t.InviteTTLSeconds) * time.Second
}

func (t Tuning) DissolveConfirmWindow() time.Duration {
	return time.Duration(t.DissolveConfirmSeconds) * time.Second
}

// Rules resolves the default rule toggles for new claims.
func (t Tuning) Rules() model.RuleSet {
	s, err := model.RuleSetFromMap(t.DefaultRules)
	if err != nil {
		return model.DefaultRules()
	}
	return s
}

func (t Tuning) VisitorPerms() model.Perm { return model.Perm(t.DefaultVisitorPerms) }
func (t Tuning) MemberPerms() model.Perm  { return model.Perm(t.DefaultMemberPerms) }
