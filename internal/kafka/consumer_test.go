package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// mockJournal implements TradeJournal for testing
type mockJournal struct {
	records     map[string]*models.TradeRecord // key: event_id
	createCalls int
	nextID      int
}

func newMockJournal() *mockJournal {
	return &mockJournal{records: make(map[string]*models.TradeRecord), nextID: 1}
}

func (m *mockJournal) CreateTradeRecord(t *models.TradeRecord) error {
	t.ID = m.nextID
	m.nextID++
	m.createCalls++
	m.records[t.EventID] = t
	return nil
}

func (m *mockJournal) TradeExistsByEventID(eventID string) (bool, error) {
	_, ok := m.records[eventID]
	return ok, nil
}

func newTestConsumer(journal TradeJournal) *Consumer {
	return &Consumer{journal: journal}
}

func tradeMessage(t *testing.T, event models.TradeEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(event.Symbol), Value: data}
}

func TestConsumerProcessMessage(t *testing.T) {
	baseEvent := models.TradeEvent{
		EventType:  models.EventTypeTradeExecuted,
		EventID:    "evt-1",
		UserID:     "u1",
		Symbol:     "AAPL",
		Side:       models.TradeSideBuy,
		Quantity:   10,
		Price:      decimal.NewFromFloat(150.00),
		ExecutedAt: time.Now(),
	}

	t.Run("journals a trade-executed event", func(t *testing.T) {
		journal := newMockJournal()
		consumer := newTestConsumer(journal)

		err := consumer.processMessage(tradeMessage(t, baseEvent))
		require.NoError(t, err)

		require.Equal(t, 1, journal.createCalls)
		record := journal.records["evt-1"]
		require.NotNil(t, record)
		assert.Equal(t, "AAPL", record.Symbol)
		assert.Equal(t, models.TradeSideBuy, record.Side)
		assert.Equal(t, int64(10), record.Quantity)
		assert.True(t, decimal.NewFromFloat(150.00).Equal(record.Price))
	})

	t.Run("duplicate events are skipped", func(t *testing.T) {
		journal := newMockJournal()
		consumer := newTestConsumer(journal)

		require.NoError(t, consumer.processMessage(tradeMessage(t, baseEvent)))
		require.NoError(t, consumer.processMessage(tradeMessage(t, baseEvent)))

		assert.Equal(t, 1, journal.createCalls, "idempotency: the second delivery must not journal again")
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		journal := newMockJournal()
		consumer := newTestConsumer(journal)

		event := baseEvent
		event.EventType = "PORTFOLIO_CLEARED"
		require.NoError(t, consumer.processMessage(tradeMessage(t, event)))

		assert.Zero(t, journal.createCalls)
	})

	t.Run("missing event ID is rejected", func(t *testing.T) {
		journal := newMockJournal()
		consumer := newTestConsumer(journal)

		event := baseEvent
		event.EventID = ""
		err := consumer.processMessage(tradeMessage(t, event))
		require.Error(t, err)
		assert.Zero(t, journal.createCalls)
	})

	t.Run("malformed payload is an error, not a panic", func(t *testing.T) {
		journal := newMockJournal()
		consumer := newTestConsumer(journal)

		err := consumer.processMessage(kafka.Message{Value: []byte("{not json")})
		require.Error(t, err)
	})
}
