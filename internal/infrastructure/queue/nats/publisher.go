// Package nats publishes answer lifecycle events so downstream consumers can
// audit what the pipeline produced and what the validation gate rejected.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const (
	SubjectValidated = "answers.validated"
	SubjectRejected  = "answers.rejected"
)

type Publisher struct {
	conn   *nats.Conn
	runner *resilience.Runner
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Runner               *resilience.Runner
}

func New(url string) (*Publisher, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("knowledge-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: conn, runner: options.Runner}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// validatedEvent trims the contract down to what auditors need; the full
// payload already went to the caller.
type validatedEvent struct {
	Version    string    `json:"version"`
	Persona    string    `json:"persona"`
	RunID      string    `json:"run_id"`
	Sources    int       `json:"sources"`
	Confidence string    `json:"confidence"`
	Fallback   string    `json:"fallback_behavior"`
	EmittedAt  time.Time `json:"emitted_at"`
}

type rejectedEvent struct {
	Question   string             `json:"question"`
	Violations []domain.Violation `json:"violations"`
	EmittedAt  time.Time          `json:"emitted_at"`
}

func newValidatedEvent(contract *domain.AnswerContract) validatedEvent {
	event := validatedEvent{
		Version:   contract.Version,
		Persona:   contract.Persona,
		Sources:   len(contract.Sources),
		EmittedAt: time.Now().UTC(),
	}
	// Integrity and Provenance are optional on the contract type.
	if contract.Provenance != nil {
		event.RunID = contract.Provenance.RunID
	}
	if contract.Integrity != nil {
		event.Confidence = string(contract.Integrity.Confidence)
		event.Fallback = string(contract.Integrity.FallbackBehavior)
	}
	return event
}

func (p *Publisher) PublishValidated(ctx context.Context, contract *domain.AnswerContract) error {
	return p.publish(ctx, SubjectValidated, newValidatedEvent(contract))
}

func (p *Publisher) PublishRejected(ctx context.Context, question string, report domain.ValidationErrorReport) error {
	event := rejectedEvent{
		Question:   question,
		Violations: report.Violations,
		EmittedAt:  time.Now().UTC(),
	}
	return p.publish(ctx, SubjectRejected, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	if p.runner != nil {
		err = p.runner.Run(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
