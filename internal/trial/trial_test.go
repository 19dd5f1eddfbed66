package trial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
)

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func newGatekeeper() (*Gatekeeper, *memStore) {
	store := &memStore{values: map[string]string{}}
	return NewGatekeeper(store, 24*time.Hour, 10*time.Minute), store
}

func TestEvaluate_Pure(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Hour)

	tests := []struct {
		name      string
		state     model.TrialState
		now       time.Time
		available bool
		remaining time.Duration
	}{
		{name: "never granted", state: model.TrialState{}, now: now, available: true},
		{name: "cooling down", state: model.TrialState{LastGrantedAt: &at}, now: now, remaining: 23 * time.Hour},
		{name: "exactly at cooldown", state: model.TrialState{LastGrantedAt: &at}, now: at.Add(24 * time.Hour), available: true},
		{name: "clock moved back", state: model.TrialState{LastGrantedAt: &at}, now: at.Add(-time.Minute), remaining: 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Evaluate(tt.state, tt.now, 24*time.Hour)
			assert.Equal(t, tt.available, info.IsAvailable)
			assert.Equal(t, tt.remaining, info.RemainingCooldown)
		})
	}
}

func TestGrant_ThenCoolingDownThenAvailable(t *testing.T) {
	g, _ := newGatekeeper()
	ctx := context.Background()
	now := time.Now()

	grant, err := g.Grant(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, grant.Duration)
	assert.Equal(t, model.GrantSourceTrial, grant.Source)

	info, err := g.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.False(t, info.IsAvailable)
	assert.InDelta(t, float64(24*time.Hour), float64(info.RemainingCooldown), float64(time.Millisecond))

	_, err = g.Grant(ctx, now.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.New(apperr.TrialUnavailable)))
	assert.Contains(t, err.Error(), "23h 0m")

	info, err = g.Evaluate(ctx, now.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.True(t, info.IsAvailable)

	_, err = g.Grant(ctx, now.Add(24*time.Hour+time.Second))
	assert.NoError(t, err)
}

func TestGrant_PersistsTimestamp(t *testing.T) {
	g, store := newGatekeeper()
	now := time.UnixMilli(1_700_000_000_123)

	_, err := g.Grant(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", store.values[LastGrantedKey])
}

func TestFormatCooldown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 0, want: "0s"},
		{d: -time.Second, want: "0s"},
		{d: 42 * time.Second, want: "42s"},
		{d: 5*time.Minute + 3*time.Second, want: "5m 3s"},
		{d: 23*time.Hour + 59*time.Minute + 59*time.Second, want: "23h 59m"},
		{d: 24 * time.Hour, want: "24h 0m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCooldown(tt.d), "duration %s", tt.d)
	}
}
