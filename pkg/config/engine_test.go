package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*EngineConfig) {}},
		{name: "cron expression", mutate: func(c *EngineConfig) { c.SweepSchedule = "*/5 * * * *" }},
		{name: "zero depth", mutate: func(c *EngineConfig) { c.MaxConditionDepth = 0 }, wantErr: true},
		{name: "huge depth", mutate: func(c *EngineConfig) { c.MaxConditionDepth = 10_000 }, wantErr: true},
		{name: "no timeout", mutate: func(c *EngineConfig) { c.NotificationTimeout = 0 }, wantErr: true},
		{name: "bad schedule", mutate: func(c *EngineConfig) { c.SweepSchedule = "every minute" }, wantErr: true},
		{name: "empty schedule", mutate: func(c *EngineConfig) { c.SweepSchedule = "" }, wantErr: true},
		{name: "negative ttl", mutate: func(c *EngineConfig) { c.SweepLedgerTTL = -time.Second }, wantErr: true},
		{name: "ttl shorter than interval", mutate: func(c *EngineConfig) {
			c.SweepSchedule = "@every 10m"
			c.SweepLedgerTTL = 5 * time.Minute
		}, wantErr: true},
		{name: "ttl equal to interval", mutate: func(c *EngineConfig) {
			c.SweepSchedule = "@every 10m"
			c.SweepLedgerTTL = 10 * time.Minute
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)

				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		spec    string
		want    time.Duration
		wantErr bool
	}{
		{spec: "@every 1m", want: time.Minute},
		{spec: "@every 90s", want: 90 * time.Second},
		{spec: "*/5 * * * *", want: 5 * time.Minute},
		{spec: "@hourly", want: time.Hour},
		{spec: "whenever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := SweepInterval(tt.spec)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
