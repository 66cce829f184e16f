package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/utafrali/account-service/internal/domain"
	pkgkafka "github.com/utafrali/account-service/pkg/kafka"
	"github.com/utafrali/account-service/pkg/logger"
)

// Kafka topic constants for account lifecycle events.
const (
	TopicAccountRegistered      = "accounts.account.registered"
	TopicAccountUpdated         = "accounts.account.updated"
	TopicAccountPasswordChanged = "accounts.account.password_changed"
	TopicAccountDeactivated     = "accounts.account.deactivated"
	TopicAccountRestored        = "accounts.account.restored"
)

// AggregateTypeAccount is the aggregate type of every account event.
const AggregateTypeAccount = "account"

// AccountEventData is the payload shared by all account events. It never
// carries password material.
type AccountEventData struct {
	AccountID      int64    `json:"account_id"`
	Email          string   `json:"email"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	IsActive       bool     `json:"is_active"`
	ChangedFields  []string `json:"changed_fields,omitempty"`
	DeletionReason *string  `json:"deletion_reason,omitempty"`
}

// Publisher publishes account lifecycle events.
type Publisher interface {
	AccountRegistered(ctx context.Context, a *domain.Account) error
	AccountUpdated(ctx context.Context, a *domain.Account, changed []string) error
	PasswordChanged(ctx context.Context, a *domain.Account) error
	AccountDeactivated(ctx context.Context, a *domain.Account) error
	AccountRestored(ctx context.Context, a *domain.Account) error
}

// kafkaPublisher is the subset of *pkgkafka.Producer used here.
type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes account events to Kafka.
type Producer struct {
	kafka  kafkaPublisher
	source string
	logger *slog.Logger
}

var _ Publisher = (*Producer)(nil)

// NewProducer creates a new event producer. source names the emitting service.
func NewProducer(kafka kafkaPublisher, source string, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, source: source, logger: logger}
}

// AccountRegistered publishes an account.registered event.
func (p *Producer) AccountRegistered(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountRegistered, "account.registered", dataFor(a))
}

// AccountUpdated publishes an account.updated event listing the changed fields.
func (p *Producer) AccountUpdated(ctx context.Context, a *domain.Account, changed []string) error {
	data := dataFor(a)
	data.ChangedFields = changed
	return p.publish(ctx, TopicAccountUpdated, "account.updated", data)
}

// PasswordChanged publishes an account.password_changed event.
func (p *Producer) PasswordChanged(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountPasswordChanged, "account.password_changed", dataFor(a))
}

// AccountDeactivated publishes an account.deactivated event.
func (p *Producer) AccountDeactivated(ctx context.Context, a *domain.Account) error {
	data := dataFor(a)
	data.DeletionReason = a.DeletionReason
	return p.publish(ctx, TopicAccountDeactivated, "account.deactivated", data)
}

// AccountRestored publishes an account.restored event.
func (p *Producer) AccountRestored(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountRestored, "account.restored", dataFor(a))
}

func (p *Producer) publish(ctx context.Context, topic, eventType string, data AccountEventData) error {
	aggregateID := strconv.FormatInt(data.AccountID, 10)

	event, err := pkgkafka.NewEvent(eventType, aggregateID, AggregateTypeAccount, p.source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published account event",
		slog.String("event_type", eventType),
		slog.Int64("account_id", data.AccountID),
	)
	return nil
}

func dataFor(a *domain.Account) AccountEventData {
	return AccountEventData{
		AccountID: a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		IsActive:  a.IsActive,
	}
}

// NopPublisher drops every event. Used when no Kafka brokers are configured.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) AccountRegistered(context.Context, *domain.Account) error        { return nil }
func (NopPublisher) AccountUpdated(context.Context, *domain.Account, []string) error { return nil }
func (NopPublisher) PasswordChanged(context.Context, *domain.Account) error          { return nil }
func (NopPublisher) AccountDeactivated(context.Context, *domain.Account) error       { return nil }
func (NopPublisher) AccountRestored(context.Context, *domain.Account) error          { return nil }
