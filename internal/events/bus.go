// Package events runs an embedded, in-process NATS server and publishes
// job/step lifecycle transitions onto it. The bus is a side channel: it is
// never part of the transaction that commits a Job/Step transition, and a
// publish failure never fails the caller.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// JobEvent is published whenever a Job's coarse state changes.
type JobEvent struct {
	JobID     string         `json:"job_id"`
	State     model.JobState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// StepEvent is published whenever a Step's execution state changes.
type StepEvent struct {
	JobID     string          `json:"job_id"`
	StepID    string          `json:"step_id"`
	Role      model.AgentRole `json:"role"`
	State     model.StepState `json:"state"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus wraps an embedded NATS server and a connection to it. When disabled
// by configuration it is still safe to call every method — they become
// no-ops — so callers never need to nil-check the bus itself.
type Bus struct {
	server  *natsserver.Server
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
	enabled bool
}

// New starts an embedded NATS server (no external broker to operate) and
// connects a client to it. If cfg.Enabled is false, New returns a disabled
// Bus whose publish methods are no-ops.
func New(cfg config.EventsConfig, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Bus{logger: logger, subject: cfg.Subject}, nil
	}

	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // random free port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	if cfg.EmbeddedFS != "" {
		opts.JetStream = true
		opts.StoreDir = cfg.EmbeddedFS
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("events: starting embedded nats server: %w", err)
	}
	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("events: embedded nats server did not become ready")
	}

	conn, err := nats.Connect(server.ClientURL())
	if err != nil {
		server.Shutdown()
		return nil, fmt.Errorf("events: connecting to embedded nats server: %w", err)
	}

	return &Bus{
		server:  server,
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
		enabled: true,
	}, nil
}

// Close closes the connection and shuts the embedded server down.
func (b *Bus) Close() {
	if !b.enabled {
		return
	}
	b.conn.Close()
	b.server.Shutdown()
	b.server.WaitForShutdown()
}

// PublishJobTransition publishes a JobEvent to "{subject}.jobs.{job_id}".
// Failures are logged and swallowed — the event bus is not the source of
// truth, the durable store is.
func (b *Bus) PublishJobTransition(job *model.Job) {
	if !b.enabled {
		return
	}
	evt := JobEvent{JobID: job.ID, State: job.State, Timestamp: time.Now().UTC()}
	b.publish(fmt.Sprintf("%s.jobs.%s", b.subject, job.ID), evt)
}

// PublishStepTransition publishes a StepEvent to
// "{subject}.steps.{step_id}".
func (b *Bus) PublishStepTransition(step *model.Step) {
	if !b.enabled {
		return
	}
	evt := StepEvent{
		JobID: step.JobID, StepID: step.ID, Role: step.Role,
		State: step.State, Attempt: step.Attempt, Timestamp: time.Now().UTC(),
	}
	b.publish(fmt.Sprintf("%s.steps.%s", b.subject, step.ID), evt)
}

func (b *Bus) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to marshal event", zap.Error(err), zap.String("subject", subject))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish event", zap.Error(err), zap.String("subject", subject))
	}
}

// ClientURL returns the embedded server's client connection URL, mainly
// useful for tests and for any future consumer wanting to subscribe
// directly. Empty when the bus is disabled.
func (b *Bus) ClientURL() string {
	if !b.enabled {
		return ""
	}
	return b.server.ClientURL()
}
