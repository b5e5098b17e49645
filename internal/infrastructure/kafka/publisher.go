package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

var _ ledger.EventPublisher = (*Publisher)(nil)

// messageWriter subconjunto de kafka.Writer (permite tests sin broker).
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publica MovementCompleted en Kafka con clave productId:locationId
// para conservar el orden por par.
type Publisher struct {
	writer messageWriter
	log    *logger.Logger
}

// NewPublisher crea el productor.
func NewPublisher(brokers []string, topic string, log *logger.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return newPublisher(writer, log)
}

func newPublisher(w messageWriter, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{writer: w, log: log.Component("kafka")}
}

// PublishMovementCompleted escribe un mensaje por evento en un solo batch.
func (p *Publisher) PublishMovementCompleted(ctx context.Context, events []entity.MovementCompleted) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(EventKey(e)),
			Value: value,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "eventType", Value: []byte(e.EventType)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages to kafka: %w", err)
	}
	p.log.Debug().Int("count", len(msgs)).Str("movement_id", events[0].MovementID).Msg("eventos publicados")
	return nil
}

// Close cierra el productor.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// EventKey clave de partición del evento.
func EventKey(e entity.MovementCompleted) string {
	return e.ProductID + ":" + e.LocationID
}

var _ ledger.EventPublisher = (*LogPublisher)(nil)

// LogPublisher registra los eventos en el log cuando no hay brokers configurados.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher construye el publicador de respaldo.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogPublisher{log: log.Component("events")}
}

func (p *LogPublisher) PublishMovementCompleted(_ context.Context, events []entity.MovementCompleted) error {
	for _, e := range events {
		p.log.Info().
			Str("event_type", e.EventType).
			Str("movement_id", e.MovementID).
			Str("product_id", e.ProductID).
			Str("location_id", e.LocationID).
			Int64("new_quantity", e.NewQuantity).
			Msg("evento de dominio")
	}
	return nil
}
