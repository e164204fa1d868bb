package debate

import (
	"fmt"
	"time"
)

// ControlPolicy decides which connected clients may issue control commands.
type ControlPolicy string

const (
	// ControlFirstWriter lets the first client that sends a command control the session.
	ControlFirstWriter ControlPolicy = "first_writer"
	// ControlOpen accepts commands from every client.
	ControlOpen ControlPolicy = "open"
)

// Defaults for SystemConfig.
const (
	DefaultMaxRoundsPerTopic      = 2
	DefaultGenerationTimeout      = 30 * time.Second
	DefaultInterjectionResponders = 2
	DefaultBalanceThreshold       = 2
	DefaultContextWindow          = 6
	DefaultRetentionWindow        = 30 * time.Minute
)

// SystemConfig holds the per-session debate settings.
type SystemConfig struct {
	MaxRoundsPerTopic      int           `json:"max_rounds_per_topic" mapstructure:"max_rounds_per_topic"`
	MaxTopics              int           `json:"max_topics,omitempty" mapstructure:"max_topics"` // 0 = all
	GenerationTimeout      time.Duration `json:"generation_timeout" mapstructure:"generation_timeout"`
	TurnDelay              time.Duration `json:"turn_delay" mapstructure:"turn_delay"`
	InterjectionResponders int           `json:"interjection_responders" mapstructure:"interjection_responders"`
	InterjectionHold       time.Duration `json:"interjection_hold" mapstructure:"interjection_hold"`
	BalanceThreshold       int           `json:"balance_threshold" mapstructure:"balance_threshold"`
	ContextWindow          int           `json:"context_window" mapstructure:"context_window"`
	RetentionWindow        time.Duration `json:"retention_window" mapstructure:"retention_window"`
	ControlPolicy          ControlPolicy `json:"control_policy" mapstructure:"control_policy"`
}

// DefaultSystemConfig returns the built-in defaults.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		MaxRoundsPerTopic:      DefaultMaxRoundsPerTopic,
		GenerationTimeout:      DefaultGenerationTimeout,
		InterjectionResponders: DefaultInterjectionResponders,
		BalanceThreshold:       DefaultBalanceThreshold,
		ContextWindow:          DefaultContextWindow,
		RetentionWindow:        DefaultRetentionWindow,
		ControlPolicy:          ControlFirstWriter,
	}
}

// WithDefaults fills zero fields from base. Zero counts as unset here, so use
// Overrides where an explicit zero must win.
func (c SystemConfig) WithDefaults(base SystemConfig) SystemConfig {
	if c.MaxRoundsPerTopic == 0 {
		c.MaxRoundsPerTopic = base.MaxRoundsPerTopic
	}
	if c.MaxTopics == 0 {
		c.MaxTopics = base.MaxTopics
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = base.GenerationTimeout
	}
	if c.TurnDelay == 0 {
		c.TurnDelay = base.TurnDelay
	}
	if c.InterjectionResponders == 0 {
		c.InterjectionResponders = base.InterjectionResponders
	}
	if c.InterjectionHold == 0 {
		c.InterjectionHold = base.InterjectionHold
	}
	if c.BalanceThreshold == 0 {
		c.BalanceThreshold = base.BalanceThreshold
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = base.ContextWindow
	}
	if c.RetentionWindow == 0 {
		c.RetentionWindow = base.RetentionWindow
	}
	if c.ControlPolicy == "" {
		c.ControlPolicy = base.ControlPolicy
	}
	return c
}

// Overrides changes individual settings of a base configuration. Nil fields keep
// the base value; a set field wins even when it is zero.
type Overrides struct {
	MaxRoundsPerTopic      *int
	MaxTopics              *int
	GenerationTimeout      *time.Duration
	TurnDelay              *time.Duration
	InterjectionResponders *int
	InterjectionHold       *time.Duration
	BalanceThreshold       *int
	ContextWindow          *int
	RetentionWindow        *time.Duration
	ControlPolicy          *ControlPolicy
}

// Apply returns base with the set fields replaced.
func (o Overrides) Apply(base SystemConfig) SystemConfig {
	set(&base.MaxRoundsPerTopic, o.MaxRoundsPerTopic)
	set(&base.MaxTopics, o.MaxTopics)
	set(&base.GenerationTimeout, o.GenerationTimeout)
	set(&base.TurnDelay, o.TurnDelay)
	set(&base.InterjectionResponders, o.InterjectionResponders)
	set(&base.InterjectionHold, o.InterjectionHold)
	set(&base.BalanceThreshold, o.BalanceThreshold)
	set(&base.ContextWindow, o.ContextWindow)
	set(&base.RetentionWindow, o.RetentionWindow)
	set(&base.ControlPolicy, o.ControlPolicy)
	return base
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate rejects settings the scheduler cannot run with.
func (c SystemConfig) Validate() error {
	if c.MaxRoundsPerTopic < 1 {
		return fmt.Errorf("%w: max_rounds_per_topic must be at least 1", ErrConfiguration)
	}
	if c.MaxTopics < 0 {
		return fmt.Errorf("%w: max_topics must not be negative", ErrConfiguration)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("%w: generation_timeout must be positive", ErrConfiguration)
	}
	if c.TurnDelay < 0 || c.InterjectionHold < 0 || c.RetentionWindow < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrConfiguration)
	}
	if c.InterjectionResponders < 0 {
		return fmt.Errorf("%w: interjection_responders must not be negative", ErrConfiguration)
	}
	if c.BalanceThreshold < 1 {
		return fmt.Errorf("%w: balance_threshold must be at least 1", ErrConfiguration)
	}
	switch c.ControlPolicy {
	case ControlFirstWriter, ControlOpen:
	default:
		return fmt.Errorf("%w: unknown control_policy %q", ErrConfiguration, c.ControlPolicy)
	}
	return nil
}
