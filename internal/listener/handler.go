package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"alarmgate/internal/decoder"
	"alarmgate/internal/gate"
	"alarmgate/internal/metrics"
	"alarmgate/internal/models"
)

const (
	responseOK        = "<response>OK</response>"
	responseBadXML    = "<error>Invalid XML</error>"
	storeWriteTimeout = 5 * time.Second
)

// handleConn owns one accepted connection end to end: frame a message,
// decode it, process its records, repeat until the peer goes away. Nothing
// here is shared with other connections.
func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()[:8]
	log.Printf("[%s] connection from %s", connID, conn.RemoteAddr())

	r := bufio.NewReader(conn)
	var residual []byte
	for {
		payload, err := l.readMessage(conn, r, &residual)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("[%s] connection closed by peer", connID)
			} else {
				log.Printf("[%s] read failed: %v", connID, err)
			}
			return
		}
		if !l.processPayload(conn, connID, payload) {
			return
		}
	}
}

// readMessage accumulates bytes until the buffer frames one complete
// message: for the HTTP variant, headers plus a Content-Length worth of
// body; for the raw variant, a top-level </config> terminator. Exactly one
// message is returned per call; bytes belonging to a pipelined follow-up
// message are stashed in residual for the next call, so back-to-back
// requests in a single burst are all processed in arrival order. End of
// stream also completes a message, and a read timeout with buffered data
// delivers what arrived (recorders that omit both terminator and
// Content-Length just stop sending). A timeout on an empty buffer closes
// the idle connection, and the configured size bound caps memory per
// connection.
func (l *Listener) readMessage(conn net.Conn, r *bufio.Reader, residual *[]byte) ([]byte, error) {
	idle := l.cfg.Listener.GetIdleTimeout()
	maxBytes := l.cfg.Listener.MaxMessageBytes

	buf := *residual
	*residual = nil
	tmp := make([]byte, 4096)
	for {
		if msg, ok := splitMessage(buf, residual); ok {
			return msg, nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return nil, err
		}
		n, err := r.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if maxBytes > 0 && len(buf) > maxBytes {
			return nil, fmt.Errorf("message exceeds %d byte limit", maxBytes)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return nil, io.EOF
				}
				if msg, ok := splitMessage(buf, residual); ok {
					return msg, nil
				}
				return buf, nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
	}
}

// splitMessage cuts the first complete message off the front of buf and
// stashes any pipelined remainder (minus inter-message whitespace) in
// residual.
func splitMessage(buf []byte, residual *[]byte) ([]byte, bool) {
	end := messageEnd(buf)
	if end < 0 {
		return nil, false
	}
	if rest := bytes.TrimLeft(buf[end:], " \t\r\n"); len(rest) > 0 {
		*residual = append([]byte(nil), rest...)
	}
	return buf[:end], true
}

// messageEnd reports where the first complete message framed in buf ends,
// or -1 when more bytes are needed.
func messageEnd(buf []byte) int {
	if len(buf) == 0 {
		return -1
	}
	if decoder.IsHTTP(buf) {
		return httpEnd(buf)
	}
	return rawEnd(buf)
}

// rawEnd frames a raw-XML message through the last buffered top-level
// terminator; concatenated documents in one burst stay one message, which
// the decoder splits, while a trailing partial document is left for the
// next read.
func rawEnd(buf []byte) int {
	terminator := []byte("</config>")
	idx := bytes.LastIndex(buf, terminator)
	if idx < 0 {
		return -1
	}
	return idx + len(terminator)
}

// httpEnd looks for the blank-line header terminator and, when a
// Content-Length header is present, frames the message at the end of the
// declared body. Without Content-Length the body only ends at connection
// close.
func httpEnd(buf []byte) int {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(buf, sep)
	if idx < 0 {
		sep = []byte("\n\n")
		idx = bytes.Index(buf, sep)
	}
	if idx < 0 {
		return -1
	}
	head := string(buf[:idx])
	bodyStart := idx + len(sep)
	for _, line := range strings.Split(head, "\n") {
		key, val, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return len(buf) // malformed length; hand everything to the decoder to reject
		}
		if len(buf)-bodyStart >= n {
			return bodyStart + n
		}
		return -1
	}
	return -1
}

// processPayload decodes one framed payload and runs its messages. The
// return value reports whether the connection is still usable: a decode
// failure on the raw variant keeps the connection open for the next message,
// while a broken HTTP request leaves the stream unrecoverable.
func (l *Listener) processPayload(conn net.Conn, connID string, payload []byte) bool {
	isHTTP := decoder.IsHTTP(payload)
	msgs, err := decoder.Decode(payload)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		log.Printf("[%s] %v", connID, err)
		if isHTTP {
			return false
		}
		l.respond(conn, connID, responseBadXML)
		return true
	}

	for i := range msgs {
		l.processMessage(connID, &msgs[i])
	}
	if !isHTTP {
		l.respond(conn, connID, responseOK)
	}
	return true
}

// processMessage dispatches one decoded device message.
func (l *Listener) processMessage(connID string, msg *models.Message) {
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()

	switch msg.Kind {
	case models.KindHeartbeat:
		log.Printf("[%s] heartbeat from device name=%q serial=%q ip=%q",
			connID, msg.Device.Name, msg.Device.Serial, msg.Device.IP)
	case models.KindAlarm:
		for i := range msg.Records {
			l.processRecord(connID, &msg.Records[i])
		}
	default:
		log.Printf("[%s] unknown message type, ignoring: %q", connID, truncate(msg.RawSource, 200))
	}
}

// processRecord logs one alarm record, persists it, and escalates when the
// record is triggered, its type is allowlisted and the paging window is
// open. The log write always precedes the paging call, and a paging failure
// never affects subsequent records or the connection.
func (l *Listener) processRecord(connID string, rec *models.AlarmRecord) {
	metrics.AlarmRecordsTotal.Inc()
	log.Printf("[%s] alarm received: type=%s id=%s name=%q device=%q triggered=%v",
		connID, rec.AlarmType, rec.AlarmID, rec.AlarmName, rec.Device.Name, rec.Triggered)

	now := time.Now()
	escalated := false
	switch {
	case gate.ShouldEscalate(rec, l.allow, l.window, now):
		escalated = l.escalate(connID, rec, now)
	case !rec.Triggered:
		log.Printf("[%s] alarm %s cleared, nothing to page", connID, rec.AlarmType)
	case !l.allow.Contains(rec.AlarmType):
		log.Printf("[%s] alarm type %s not in alert list, no incident created", connID, rec.AlarmType)
	default:
		metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeSuppressed).Inc()
		log.Printf("[%s] incident not created due to time restrictions: %s", connID, rec.AlarmType)
	}

	l.saveRecord(connID, rec, escalated)
}

// escalate invokes the pager with its own timeout and reports success.
func (l *Listener) escalate(connID string, rec *models.AlarmRecord, now time.Time) bool {
	device := rec.Device.Name
	if device == "" {
		device = rec.Device.Serial
	}
	if device == "" {
		device = "unknown device"
	}
	title := fmt.Sprintf("Camera alarm: %s on %s", rec.AlarmType, device)
	details := fmt.Sprintf("Alarm ID: %s\nAlarm Name: %s\nDevice: name=%s serial=%s ip=%s mac=%s\nAlarm Time: %s\n\n%s",
		rec.AlarmID, rec.AlarmName,
		rec.Device.Name, rec.Device.Serial, rec.Device.IP, rec.Device.MAC,
		now.In(l.window.Location()).Format(time.RFC3339), rec.RawSource)

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Paging.GetTimeoutDuration())
	defer cancel()

	if err := l.notifier.Trigger(ctx, title, details); err != nil {
		metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Printf("[%s] failed to create incident for %s: %v", connID, rec.AlarmType, err)
		return false
	}
	metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeSent).Inc()
	log.Printf("[%s] incident created: %s", connID, title)
	return true
}

// saveRecord writes the record to the audit store when one is configured.
func (l *Listener) saveRecord(connID string, rec *models.AlarmRecord, escalated bool) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := l.store.SaveAlarm(ctx, rec, escalated); err != nil {
		log.Printf("[%s] failed to persist alarm %s: %v", connID, rec.AlarmType, err)
	}
}

// respond writes a short acknowledgment back to the recorder. Write errors
// are logged only; the device does not read responses reliably anyway.
func (l *Listener) respond(conn net.Conn, connID, body string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(body)); err != nil {
		log.Printf("[%s] failed to write response: %v", connID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
