package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/obsidianstack/reachability/server/internal/results"
)

// natsConn is the subset of *nats.Conn used by NATS.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes records with core NATS on "<subject>.<device>".
type NATS struct {
	conn    natsConn
	subject string
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("reachability"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("publish: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("publish: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: connect nats %q: %w", url, err)
	}
	slog.Info("publish: connected to nats", "url", url, "subject", subject)
	return &NATS{conn: nc, subject: subject}, nil
}

// Subject returns the subject a device's records are published on.
func (p *NATS) Subject(deviceID string) string {
	return p.subject + "." + subjectToken(deviceID)
}

// Publish sends r as JSON. Core publish is fire-and-forget; the error only
// reports a closed or overloaded connection.
func (p *NATS) Publish(_ context.Context, r results.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	subj := p.Subject(r.DeviceID)
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish: nats %q: %w", subj, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.conn.Drain()
}

// subjectToken replaces characters that carry meaning in NATS subjects.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
