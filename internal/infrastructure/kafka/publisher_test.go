package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishMovementCompleted_ClavePorPar(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []entity.MovementCompleted{
		{EventID: "e1", EventType: entity.EventTypeMovementCompleted, OccurredAt: now, MovementID: "m1", ProductID: "p1", LocationID: "wh-1", NewQuantity: 6},
		{EventID: "e2", EventType: entity.EventTypeMovementCompleted, OccurredAt: now, MovementID: "m1", ProductID: "p1", LocationID: "st-1", NewQuantity: 4},
	}

	require.NoError(t, p.PublishMovementCompleted(context.Background(), events))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "p1:wh-1", string(w.msgs[0].Key))
	assert.Equal(t, "p1:st-1", string(w.msgs[1].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, "m1", decoded["movementId"])
	assert.Equal(t, float64(4), decoded["newQuantity"])
	assert.Equal(t, entity.EventTypeMovementCompleted, decoded["eventType"])
}

func TestPublishMovementCompleted_ErrorDelBroker(t *testing.T) {
	p := newPublisher(&fakeWriter{err: errors.New("broker caído")}, nil)
	err := p.PublishMovementCompleted(context.Background(), []entity.MovementCompleted{{MovementID: "m1"}})
	assert.Error(t, err)

	assert.NoError(t, p.PublishMovementCompleted(context.Background(), nil))
}
