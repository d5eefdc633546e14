// Package config holds the engine tunables shared by the ticketflow binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	DefaultMaxConditionDepth   = 32
	DefaultNotificationTimeout = 5 * time.Second
	DefaultSweepSchedule       = "@every 1m"
	DefaultSweepLedgerTTL      = time.Hour
)

// ErrInvalidConfig indicates an engine setting outside its accepted range.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// EngineConfig collects the engine limits and the sweeper cadence.
type EngineConfig struct {
	MaxConditionDepth   int           `validate:"min=1,max=256"`
	NotificationTimeout time.Duration `validate:"gt=0"`
	SweepSchedule       string        `validate:"required,schedule"`
	SweepLedgerTTL      time.Duration `validate:"gt=0"`
}

func Default() EngineConfig {
	return EngineConfig{
		MaxConditionDepth:   DefaultMaxConditionDepth,
		NotificationTimeout: DefaultNotificationTimeout,
		SweepSchedule:       DefaultSweepSchedule,
		SweepLedgerTTL:      DefaultSweepLedgerTTL,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := ParseSchedule(fl.Field().String())

		return err == nil
	})

	return v
}

// Validate checks every field and reports all violations at once.
func (c EngineConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateLedgerTTL()
	}

	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	messages := make([]string, 0, len(violations))
	for _, v := range violations {
		messages = append(messages, fmt.Sprintf("%s failed %s", v.Field(), v.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, ", "))
}

// ParseSchedule accepts standard five-field cron expressions and the
// @every / @hourly descriptors.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// SweepInterval is the gap between two consecutive firings of spec. Sweeper
// replicas key their passes on windows of this length.
func SweepInterval(spec string) (time.Duration, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return 0, err
	}

	first := schedule.Next(intervalReference)
	if first.IsZero() {
		return 0, fmt.Errorf("%w: schedule %q never fires", ErrInvalidConfig, spec)
	}

	return schedule.Next(first).Sub(first), nil
}

var intervalReference = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// A claim must outlive the pass window it guards.
func (c EngineConfig) validateLedgerTTL() error {
	interval, err := SweepInterval(c.SweepSchedule)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.SweepLedgerTTL < interval {
		return fmt.Errorf("%w: SweepLedgerTTL %s is shorter than the sweep interval %s", ErrInvalidConfig, c.SweepLedgerTTL, interval)
	}

	return nil
}
