package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledger"
)

// Alert is the notification payload: the variations that triggered it plus
// the patient's full historical extract for the message formatter downstream.
type Alert struct {
	ID         string          `json:"id"`
	PatientID  string          `json:"id_paciente"`
	Variations []Variation     `json:"variations"`
	History    []ledger.Record `json:"history"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Notifier hands an alert to the notification collaborator's transport.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON events; the downstream consumer owns
// message formatting and delivery (mail, paging, whatever the site runs).
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(alert.PatientID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("vital-variation")},
			{Key: "alert-id", Value: []byte(alert.ID)},
		},
	}

	if err := n.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"alert_id":   alert.ID,
			"patient_id": alert.PatientID,
		}).Error("failed to publish alert")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"alert_id":   alert.ID,
		"patient_id": alert.PatientID,
		"topic":      n.writer.Topic,
	}).Info("alert published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier is the fallback when no broker is configured: the alert lands in
// the structured log where an operator can see it.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	logger.Log.WithFields(map[string]interface{}{
		"alert_id":   alert.ID,
		"patient_id": alert.PatientID,
		"variations": len(alert.Variations),
	}).Warn("vital-sign variation detected")
	return nil
}

func (LogNotifier) Close() error { return nil }

// NewAlert assembles the payload for one patient.
func NewAlert(patientID string, variations []Variation, history []ledger.Record) Alert {
	return Alert{
		ID:         uuid.New().String(),
		PatientID:  patientID,
		Variations: variations,
		History:    history,
		CreatedAt:  time.Now().UTC(),
	}
}
