package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradepool.com/internal/config"
	"tradepool.com/internal/event"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(config.JournalConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(config.JournalConfig{Driver: "oracle", DSN: "whatever"})
	require.Error(t, err)
}

func TestTradeJournaling(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	evt := event.Event{
		Type: event.EventTradeExecuted,
		Data: map[string]interface{}{
			"strategy_id": "sma_AAPL_20260105_093000",
			"symbol":      "AAPL",
			"side":        "buy",
			"signal_type": "buy",
			"price":       150.25,
			"amount":      30000.0,
		},
		Timestamp: time.Now(),
	}
	require.NoError(t, j.onTradeExecuted(ctx, evt))
	require.NoError(t, j.onTradeExecuted(ctx, evt))

	trades, err := j.Trades(0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "sma_AAPL_20260105_093000", trades[0].StrategyID)
	require.Equal(t, "AAPL", trades[0].Symbol)
	require.Equal(t, "buy", trades[0].Side)
	require.InDelta(t, 150.25, trades[0].Price, 1e-9)
	require.InDelta(t, 30000.0, trades[0].Amount, 1e-9)

	limited, err := j.Trades(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestStrategyEventJournaling(t *testing.T) {
	j := openTestJournal(t)

	evt := event.Event{
		Type:      event.EventStrategyPaused,
		Data:      map[string]interface{}{"strategy_id": "s1"},
		Timestamp: time.Now(),
	}
	require.NoError(t, j.onStrategyEvent(context.Background(), evt))

	var events []StrategyEvent
	require.NoError(t, j.db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, "s1", events[0].StrategyID)
	require.Equal(t, event.EventStrategyPaused, events[0].Event)
}

// 畸形事件载荷被静默跳过，不落库也不报错
func TestMalformedEventPayload(t *testing.T) {
	j := openTestJournal(t)

	evt := event.Event{Type: event.EventTradeExecuted, Data: "not a map", Timestamp: time.Now()}
	require.NoError(t, j.onTradeExecuted(context.Background(), evt))

	trades, err := j.Trades(0)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestAttachSubscribes(t *testing.T) {
	j := openTestJournal(t)
	bus := event.NewBus(16)
	defer bus.Shutdown()

	j.Attach(bus)
	require.Equal(t, 1, bus.SubscriberCount(event.EventTradeExecuted))
	require.Equal(t, 1, bus.SubscriberCount(event.EventStrategyDeployed))
	require.Equal(t, 1, bus.SubscriberCount(event.EventPortfolioRebalanced))
}
