// Package trial управляет пробным доступом с периодом ожидания между выдачами.
package trial

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
)

// LastGrantedKey ключ, под которым хранится момент последней выдачи в миллисекундах Unix.
const LastGrantedKey = "trial_last_granted_at"

// Store описывает хранилище ключ-значение для отметки о выдаче.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Evaluate вычисляет доступность пробного периода по состоянию и текущему времени.
func Evaluate(state model.TrialState, now time.Time, cooldown time.Duration) model.TrialInfo {
	if state.LastGrantedAt == nil {
		return model.TrialInfo{IsAvailable: true}
	}

	elapsed := now.Sub(*state.LastGrantedAt)
	if elapsed >= cooldown {
		return model.TrialInfo{IsAvailable: true}
	}
	if elapsed < 0 {
		// часы ушли назад: отсчитываем ожидание от текущего момента
		elapsed = 0
	}

	return model.TrialInfo{IsAvailable: false, RemainingCooldown: cooldown - elapsed}
}

// FormatCooldown форматирует оставшееся ожидание для отображения пользователю.
func FormatCooldown(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	hours := int64(d / time.Hour)
	minutes := int64(d%time.Hour) / int64(time.Minute)
	seconds := int64(d%time.Minute) / int64(time.Second)

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Gatekeeper выдаёт пробный доступ не чаще одного раза за период ожидания.
type Gatekeeper struct {
	store    Store
	cooldown time.Duration
	duration time.Duration
	mu       sync.Mutex
}

// NewGatekeeper создаёт привратник с указанным периодом ожидания и длительностью пробного доступа.
func NewGatekeeper(store Store, cooldown, duration time.Duration) *Gatekeeper {
	return &Gatekeeper{
		store:    store,
		cooldown: cooldown,
		duration: duration,
	}
}

// Evaluate сообщает, доступен ли пробный период в момент now.
func (g *Gatekeeper) Evaluate(ctx context.Context, now time.Time) (model.TrialInfo, error) {
	state, err := g.load(ctx)
	if err != nil {
		return model.TrialInfo{}, err
	}
	return Evaluate(state, now, g.cooldown), nil
}

// Grant выдаёт пробный доступ и запоминает момент выдачи.
// Повторный вызов после успешной выдачи отклоняется только периодом ожидания.
func (g *Gatekeeper) Grant(ctx context.Context, now time.Time) (model.Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.load(ctx)
	if err != nil {
		return model.Grant{}, err
	}

	info := Evaluate(state, now, g.cooldown)
	if !info.IsAvailable {
		return model.Grant{}, apperr.Newf(apperr.TrialUnavailable,
			"Trial not available. Please wait %s", FormatCooldown(info.RemainingCooldown))
	}

	if err := g.store.Set(ctx, LastGrantedKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return model.Grant{}, fmt.Errorf("persist trial grant: %w", err)
	}

	return model.Grant{Source: model.GrantSourceTrial, Duration: g.duration}, nil
}

func (g *Gatekeeper) load(ctx context.Context) (model.TrialState, error) {
	raw, ok, err := g.store.Get(ctx, LastGrantedKey)
	if err != nil {
		return model.TrialState{}, fmt.Errorf("load trial state: %w", err)
	}
	if !ok {
		return model.TrialState{}, nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.TrialState{}, fmt.Errorf("corrupt trial timestamp %q", raw)
	}

	at := time.UnixMilli(ms)
	return model.TrialState{LastGrantedAt: &at}, nil
}
