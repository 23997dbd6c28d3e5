// Package listener implements the TCP ingest front end: it accepts recorder
// connections and runs each one through decode, gate and escalation.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"alarmgate/internal/config"
	"alarmgate/internal/gate"
	"alarmgate/internal/metrics"
	"alarmgate/internal/models"
)

// Notifier is the outbound paging capability. Implementations must be safe
// for concurrent use; every connection handler calls it directly.
type Notifier interface {
	Trigger(ctx context.Context, title, details string) error
}

// AuditStore persists decoded alarm records. Safe for concurrent use.
type AuditStore interface {
	SaveAlarm(ctx context.Context, rec *models.AlarmRecord, escalated bool) error
}

// Listener owns the TCP socket and spawns one handler goroutine per
// accepted connection. Handlers share only the immutable configuration,
// the gate and the collaborators.
type Listener struct {
	cfg      *config.Config
	window   *gate.Window
	allow    gate.Allowlist
	notifier Notifier
	store    AuditStore
	ln       net.Listener
}

// New creates a new listener. store may be nil when auditing is disabled.
func New(cfg *config.Config, window *gate.Window, allow gate.Allowlist, notifier Notifier, store AuditStore) *Listener {
	return &Listener{
		cfg:      cfg,
		window:   window,
		allow:    allow,
		notifier: notifier,
		store:    store,
	}
}

// Listen binds the configured TCP address.
func (l *Listener) Listen() error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Listener.Host, l.cfg.Listener.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	l.ln = ln
	log.Printf("Listening for recorder connections on %s", ln.Addr())
	return nil
}

// Serve accepts connections until the listener is closed. Each connection
// gets its own goroutine so a slow peer never delays the others.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		metrics.ConnectionsTotal.Inc()
		go l.handleConn(conn)
	}
}

// Addr returns the bound address, useful when the port was 0.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}
