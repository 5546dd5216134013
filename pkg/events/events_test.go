package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoundTrip(t *testing.T) {
	e := &Event{
		ID:            "evt-1",
		Type:          OrderPaid,
		OccurredAt:    time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC),
		UserID:        "user-1",
		OrderID:       "ROORDER-20240110-01HMZ",
		InvoiceNumber: "INV-RO-20240110-3",
		Amount:        80000,
		Data:          map[string]string{"product_name": "Premium 3 bulan"},
	}

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEvent_KeyAndAggregate(t *testing.T) {
	e := &Event{UserID: "user-1", AccessID: "acc-1"}
	assert.Equal(t, "user-1", e.Key())
	assert.Equal(t, "acc-1", e.AggregateID())

	e.OrderID = "order-1"
	assert.Equal(t, "order-1", e.AggregateID())
}

func TestUnmarshal_Errors(t *testing.T) {
	_, err := Unmarshal([]byte("{"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"event_id":"x"}`))
	assert.Error(t, err, "событие без типа должно отклоняться")
}
