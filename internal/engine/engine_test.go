package engine

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akoredejo/SentinelShield/internal/bus"
	"github.com/Akoredejo/SentinelShield/internal/cache"
	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/repository"
)

var (
	admin    = domain.Caller{ID: "admin"}
	stranger = domain.Caller{ID: "mallory"}
)

type stepClock struct{ t atomic.Uint64 }

func (c *stepClock) Now() uint64 { return c.t.Add(1) }

func newTestEngine(t *testing.T, cfg domain.EngineConfig, opts ...Option) *Engine {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "engine.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	if cfg.AdminIDs == nil {
		cfg.AdminIDs = []string{admin.ID}
	}
	opts = append([]Option{WithClock(&stepClock{})}, opts...)
	return New(repo, cfg, opts...)
}

func alertReq(trader string, score uint64) domain.AlertRequest {
	return domain.AlertRequest{Trader: trader, RiskScore: score, AlertType: "wash-trading", TradeVolume: 5000}
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	_, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 80))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Alert.ID)
	assert.Equal(t, domain.AlertPending, res.Alert.Status)
	assert.True(t, res.Alert.FlaggedByAI)
	assert.True(t, res.ProfileUpdated)
	assert.Empty(t, res.Warnings)

	p, err := e.GetTraderProfile(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.FlaggedCount)
	assert.Equal(t, uint8(80), p.RiskScore)

	sr, err := e.UpdateAlertStatus(ctx, admin, 1, domain.AlertConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertConfirmed, sr.Alert.Status)
	assert.Equal(t, domain.AlertPending, sr.PreviousStatus)
	assert.True(t, sr.PenaltyApplied)

	p, err = e.GetTraderProfile(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, uint8(80), p.ReputationScore)

	_, err = e.BlacklistTrader(ctx, admin, "T")
	require.NoError(t, err)
	p, err = e.GetTraderProfile(ctx, "T")
	require.NoError(t, err)
	assert.True(t, p.IsBlacklisted)
}

func TestRegisterTrader(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	p, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)
	assert.Equal(t, &domain.TraderProfile{Trader: "T", ReputationScore: 100}, p)

	_, err = e.RegisterTrader(ctx, admin, "T")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = e.RegisterTrader(ctx, stranger, "U")
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	_, err = e.RegisterTrader(ctx, admin, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.GetTraderProfile(ctx, "U")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerateAlertPreconditions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})
	_, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	t.Run("BelowThreshold", func(t *testing.T) {
		_, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 74))
		assert.ErrorIs(t, err, domain.ErrThresholdNotExceeded)
	})

	t.Run("ExactlyThreshold", func(t *testing.T) {
		res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 75))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), res.Alert.ID)
	})

	t.Run("ScoreAbove100", func(t *testing.T) {
		_, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 101))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("AlertTypeTooLong", func(t *testing.T) {
		req := alertReq("T", 90)
		req.AlertType = string(make([]byte, domain.MaxAlertTypeLen+1))
		_, err := e.GenerateAlert(ctx, domain.SystemCaller, req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("SystemInactive", func(t *testing.T) {
		_, err := e.SetSystemActive(ctx, admin, false)
		require.NoError(t, err)
		t.Cleanup(func() { _, _ = e.SetSystemActive(ctx, admin, true) })

		_, err = e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("FailuresLeaveNoState", func(t *testing.T) {
		st, err := e.SystemState(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), st.AlertCounter)
		assert.Equal(t, uint64(1), st.TotalAlertsGenerated)

		p, err := e.GetTraderProfile(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), p.FlaggedCount)
	})
}

func TestAlertIDsAreSequential(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})
	_, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
			if assert.NoError(t, err) {
				ids <- res.Alert.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	for id := uint64(1); id <= n; id++ {
		assert.True(t, seen[id], "missing id %d", id)
	}

	st, err := e.SystemState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), st.AlertCounter)

	p, err := e.GetTraderProfile(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, uint64(n), p.FlaggedCount)

	alerts, err := e.ListAlerts(ctx, domain.AlertFilter{Trader: "T"})
	require.NoError(t, err)
	assert.Len(t, alerts, n)
}

func TestUnregisteredTrader(t *testing.T) {
	ctx := context.Background()

	t.Run("AlertCommitsWithWarning", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{})

		res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("ghost", 80))
		require.NoError(t, err)
		assert.False(t, res.ProfileUpdated)
		assert.Len(t, res.Warnings, 1)

		st, err := e.SystemState(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), st.AlertCounter)

		sr, err := e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertConfirmed)
		require.NoError(t, err)
		assert.False(t, sr.PenaltyApplied)
		assert.Len(t, sr.Warnings, 1)
		assert.Equal(t, domain.AlertConfirmed, sr.Alert.Status)
	})

	t.Run("StrictModeRejects", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{StrictTraderCheck: true})

		_, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("ghost", 80))
		assert.ErrorIs(t, err, domain.ErrNotFound)

		st, err := e.SystemState(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), st.AlertCounter)

		_, err = e.GetAlert(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUpdateAlertStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("ReputationFloorsAtZero", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{})
		_, err := e.RegisterTrader(ctx, admin, "T")
		require.NoError(t, err)

		for i := 0; i < 6; i++ {
			res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
			require.NoError(t, err)
			_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertConfirmed)
			require.NoError(t, err)
		}

		p, err := e.GetTraderProfile(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, uint8(0), p.ReputationScore)
	})

	t.Run("NonConfirmedLeavesReputation", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{})
		_, err := e.RegisterTrader(ctx, admin, "T")
		require.NoError(t, err)
		res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
		require.NoError(t, err)

		sr, err := e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertDismissed)
		require.NoError(t, err)
		assert.False(t, sr.PenaltyApplied)
		assert.Empty(t, sr.Warnings)

		p, err := e.GetTraderProfile(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, uint8(100), p.ReputationScore)
	})

	t.Run("UnconditionalByDefault", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{})
		res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
		require.NoError(t, err)

		_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertDismissed)
		require.NoError(t, err)
		sr, err := e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertPending)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertDismissed, sr.PreviousStatus)
		assert.Equal(t, domain.AlertPending, sr.Alert.Status)
	})

	t.Run("EnforcedTransitions", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{EnforceTransitions: true})
		res, err := e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 90))
		require.NoError(t, err)

		_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertInvestigating)
		require.NoError(t, err)
		_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertDismissed)
		require.NoError(t, err)

		_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertPending)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		a, err := e.GetAlert(ctx, res.Alert.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertDismissed, a.Status)
	})

	t.Run("Errors", func(t *testing.T) {
		e := newTestEngine(t, domain.EngineConfig{})

		_, err := e.UpdateAlertStatus(ctx, admin, 99, domain.AlertConfirmed)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = e.UpdateAlertStatus(ctx, stranger, 1, domain.AlertConfirmed)
		assert.ErrorIs(t, err, domain.ErrOwnerOnly)

		_, err = e.UpdateAlertStatus(ctx, admin, 1, domain.AlertStatus("closed"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestBlacklistTrader(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	_, err := e.BlacklistTrader(ctx, admin, "T")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	_, err = e.BlacklistTrader(ctx, stranger, "T")
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	for i := 0; i < 2; i++ {
		p, err := e.BlacklistTrader(ctx, admin, "T")
		require.NoError(t, err)
		assert.True(t, p.IsBlacklisted)
	}
}

func TestRecordTrade(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	_, err := e.RecordTrade(ctx, "T")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	first, err := e.RecordTrade(ctx, "T")
	require.NoError(t, err)
	second, err := e.RecordTrade(ctx, "T")
	require.NoError(t, err)

	assert.Equal(t, uint64(2), second.TotalTrades)
	assert.Greater(t, second.LastTradeTime, first.LastTradeTime)
}

func TestFeatureWeights(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	w, err := e.SetFeatureWeight(ctx, admin, "volume", 30, "Volume Spike")
	require.NoError(t, err)
	assert.True(t, w.Enabled)

	_, err = e.SetFeatureWeight(ctx, admin, "volume", 101, "Volume Spike")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.SetFeatureWeight(ctx, stranger, "volume", 10, "Volume Spike")
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	_, err = e.SetFeatureWeight(ctx, admin, "volume", 100, "Volume")
	require.NoError(t, err)

	got, err := e.GetFeatureWeight(ctx, "volume")
	require.NoError(t, err)
	assert.Equal(t, uint8(100), got.Weight)
	assert.Equal(t, "Volume", got.FeatureName)

	_, err = e.GetFeatureWeight(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := e.ListFeatureWeights(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWindows(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	w := &domain.TradingAnomaly{Trader: "T", WindowID: 4, AvgTradeSize: 10, TradeFrequency: 2, VolatilityScore: 90, AnomalyDetected: true}
	require.NoError(t, e.RecordWindow(ctx, w))

	w.AnomalyDetected = false
	require.NoError(t, e.RecordWindow(ctx, w))

	got, err := e.GetWindow(ctx, "T", 4)
	require.NoError(t, err)
	assert.False(t, got.AnomalyDetected)

	list, err := e.ListWindows(ctx, "T")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, e.RecordWindow(ctx, &domain.TradingAnomaly{}), domain.ErrInvalidInput)
}

func TestSystemAdministration(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	st, err := e.SetFraudThreshold(ctx, admin, 50)
	require.NoError(t, err)
	assert.Equal(t, uint8(50), st.FraudThreshold)

	_, err = e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 50))
	require.NoError(t, err)

	_, err = e.SetFraudThreshold(ctx, admin, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.SetFraudThreshold(ctx, stranger, 10)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	_, err = e.SetSystemActive(ctx, stranger, false)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	st, err = e.SystemState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(50), st.FraudThreshold)
	assert.True(t, st.SystemActive)
	assert.Equal(t, uint64(1), st.TotalAlertsGenerated)
}

func TestEventsAndCache(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()
	c := cache.NewLRUCache(100)

	e := newTestEngine(t, domain.EngineConfig{}, WithBus(b), WithCache(c, time.Minute))

	events := make(chan *domain.Message, 4)
	for _, topic := range []string{domain.TopicAlertGenerated, domain.TopicAlertStatus} {
		_, err := b.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			events <- msg
			return nil
		})
		require.NoError(t, err)
	}

	_, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)
	_, err = e.GenerateAlert(ctx, domain.SystemCaller, alertReq("T", 80))
	require.NoError(t, err)

	select {
	case msg := <-events:
		var ev domain.AlertEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, uint64(1), ev.Alert.ID)
		assert.Equal(t, domain.SystemCaller.ID, ev.CallerID)
	case <-time.After(time.Second):
		t.Fatal("no alert event published")
	}

	cached, err := c.GetProfile(ctx, "T")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, uint64(1), cached.FlaggedCount, "cache refreshed after commit")
}

func TestQuantityBounds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, domain.EngineConfig{})

	_, err := e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	t.Run("AlertVolume", func(t *testing.T) {
		req := alertReq("T", 80)
		req.TradeVolume = math.MaxUint64
		_, err := e.GenerateAlert(ctx, domain.SystemCaller, req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		req.TradeVolume = math.MaxInt64
		res, err := e.GenerateAlert(ctx, domain.SystemCaller, req)
		require.NoError(t, err)

		got, err := e.GetAlert(ctx, res.Alert.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxInt64), got.TradeVolume)

		alerts, err := e.ListAlerts(ctx, domain.AlertFilter{})
		require.NoError(t, err)
		assert.Len(t, alerts, 1, "rejected alert must not consume an id")

		_, err = e.UpdateAlertStatus(ctx, admin, res.Alert.ID, domain.AlertConfirmed)
		require.NoError(t, err)
	})

	t.Run("Window", func(t *testing.T) {
		for _, a := range []*domain.TradingAnomaly{
			{Trader: "T", WindowID: math.MaxUint64},
			{Trader: "T", WindowID: 1, AvgTradeSize: math.MaxInt64 + 1},
			{Trader: "T", WindowID: 1, TradeFrequency: math.MaxUint64},
			{Trader: "T", WindowID: 1, VolatilityScore: math.MaxUint64},
		} {
			assert.ErrorIs(t, e.RecordWindow(ctx, a), domain.ErrInvalidInput)
		}

		require.NoError(t, e.RecordWindow(ctx, &domain.TradingAnomaly{Trader: "T", WindowID: math.MaxInt64}))
		windows, err := e.ListWindows(ctx, "T")
		require.NoError(t, err)
		require.Len(t, windows, 1)
		assert.Equal(t, uint64(math.MaxInt64), windows[0].WindowID)
	})
}

func TestAdmitTrade(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLRUCache(100)
	e := newTestEngine(t, domain.EngineConfig{}, WithCache(c, time.Minute))

	_, err := e.AdmitTrade(ctx, "T")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.RegisterTrader(ctx, admin, "T")
	require.NoError(t, err)

	p, err := e.AdmitTrade(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.TotalTrades)

	_, err = e.BlacklistTrader(ctx, admin, "T")
	require.NoError(t, err)

	// A stale cached copy must not let the trader through.
	stale := domain.NewTraderProfile("T")
	stale.TotalTrades = 1
	require.NoError(t, c.SetProfile(ctx, stale, time.Minute))

	_, err = e.AdmitTrade(ctx, "T")
	assert.ErrorIs(t, err, domain.ErrBlacklisted)

	cached, err := c.GetProfile(ctx, "T")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.IsBlacklisted, "rejection replaces the stale copy")
	assert.Equal(t, uint64(1), cached.TotalTrades)
}
