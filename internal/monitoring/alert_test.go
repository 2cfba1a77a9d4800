package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureReceiver struct {
	mu     sync.Mutex
	alerts []*Alert
}

func (r *captureReceiver) SendAlert(alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestAlertManager(t *testing.T) {
	ctx := context.Background()

	t.Run("依赖不可达时触发且只发送一次", func(t *testing.T) {
		var down bool
		am := NewAlertManager(nil)
		rec := &captureReceiver{}
		am.AddReceiver(rec)
		am.AddRule(DependencyRule("redis", PingFunc(func(context.Context) error {
			if down {
				return errors.New("connection refused")
			}
			return nil
		})))

		am.CheckRules(ctx)
		assert.Empty(t, am.GetActiveAlerts())

		down = true
		am.CheckRules(ctx)
		am.CheckRules(ctx)
		require.Len(t, rec.alerts, 1)
		assert.Equal(t, "redis_connection", rec.alerts[0].ID)
		assert.Equal(t, AlertLevelCritical, rec.alerts[0].Level)
		assert.Len(t, am.GetActiveAlerts(), 1)

		down = false
		am.CheckRules(ctx)
		assert.Empty(t, am.GetActiveAlerts())
		assert.True(t, rec.alerts[0].Resolved)
		assert.NotNil(t, rec.alerts[0].ResolvedAt)
	})

	t.Run("恢复后再次故障会重新告警", func(t *testing.T) {
		down := true
		am := NewAlertManager(nil)
		rec := &captureReceiver{}
		am.AddReceiver(rec)
		am.AddRule(AlertRule{
			ID:        "flaky",
			Condition: func(context.Context) bool { return down },
			Level:     AlertLevelWarning,
		})

		am.CheckRules(ctx)
		down = false
		am.CheckRules(ctx)
		down = true
		am.CheckRules(ctx)
		assert.Len(t, rec.alerts, 2)
	})

	t.Run("日志接收器按级别输出", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		r := NewLogAlertReceiver(zap.New(core))
		require.NoError(t, r.SendAlert(&Alert{ID: "a", Level: AlertLevelCritical}))
		require.NoError(t, r.SendAlert(&Alert{ID: "b", Level: AlertLevelWarning}))
		require.NoError(t, r.SendAlert(&Alert{ID: "c", Level: AlertLevelInfo}))

		entries := logs.All()
		require.Len(t, entries, 3)
		assert.Equal(t, "CRITICAL ALERT", entries[0].Message)
		assert.Equal(t, "WARNING ALERT", entries[1].Message)
		assert.Equal(t, "INFO ALERT", entries[2].Message)
	})
}

func TestHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("全部依赖可用时为healthy", func(t *testing.T) {
		hc := NewHealthChecker("1.0.0", nil)
		hc.AddCheck("database", PingFunc(func(context.Context) error { return nil }))
		hc.AddCheck("redis", PingFunc(func(context.Context) error { return nil }))

		report := hc.CheckHealth(ctx)
		assert.Equal(t, HealthStatusHealthy, report.Status)
		assert.Equal(t, "1.0.0", report.Version)
		assert.Equal(t, map[string]string{"database": CheckOK, "redis": CheckOK}, report.Checks)
		assert.True(t, hc.IsHealthy(ctx))
	})

	t.Run("任一依赖不可用时为degraded", func(t *testing.T) {
		hc := NewHealthChecker("1.0.0", nil)
		hc.AddCheck("database", PingFunc(func(context.Context) error { return nil }))
		hc.AddCheck("redis", PingFunc(func(context.Context) error { return errors.New("down") }))

		report := hc.CheckHealth(ctx)
		assert.Equal(t, HealthStatusDegraded, report.Status)
		assert.Equal(t, CheckUnavailable, report.Checks["redis"])
		assert.Equal(t, CheckOK, report.Checks["database"])
		assert.False(t, hc.IsHealthy(ctx))
	})
}
