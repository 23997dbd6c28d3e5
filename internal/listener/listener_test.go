package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmgate/internal/config"
	"alarmgate/internal/gate"
)

const canonicalAlarm = `<config><alarmStatusInfo><tripwireAlarm type="boolean" id="4" name="Entrance">true</tripwireAlarm></alarmStatusInfo><DeviceInfo><DeviceName>Lobby</DeviceName><DeviceNo.>1</DeviceNo.><SN>ABC123</SN><ipAddress>10.0.0.5</ipAddress><macAddress>aa:bb:cc:dd:ee:ff</macAddress></DeviceInfo></config>`

type pageCall struct {
	title   string
	details string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []pageCall
	err   error
}

func (f *fakeNotifier) Trigger(ctx context.Context, title, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageCall{title: title, details: details})
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeNotifier) last() pageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Listener: config.ListenerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			IdleTimeout:     "500ms",
			MaxMessageBytes: 1 << 20,
		},
		Paging: config.PagingConfig{Timeout: "2s"},
	}
}

func startListener(t *testing.T, windowStart, windowEnd string, types []string, notifier Notifier) *Listener {
	t.Helper()

	w, err := gate.NewWindow(windowStart, windowEnd, "UTC")
	require.NoError(t, err)

	l := New(testConfig(), w, gate.NewAllowlist(types), notifier, nil)
	require.NoError(t, l.Listen())
	go l.Serve()
	t.Cleanup(func() { l.Close() })
	return l
}

func dial(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestRawAlarmEscalates(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	_, err := conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)

	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	require.Equal(t, 1, notifier.count())

	call := notifier.last()
	assert.Contains(t, call.title, "tripwireAlarm")
	assert.Contains(t, call.title, "Lobby")
	assert.Contains(t, call.details, "aa:bb:cc:dd:ee:ff")
	assert.Contains(t, call.details, canonicalAlarm)
}

func TestHTTPAlarmEscalates(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	req := fmt.Sprintf("POST /SendAlarmData HTTP/1.1\r\nHost: 10.0.0.5\r\nContent-Length: %d\r\n\r\n%s",
		len(canonicalAlarm), canonicalAlarm)
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return notifier.count() == 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestMalformedThenValidOnSameConnection(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	_, err := conn.Write([]byte(`<config><unterminated</config>`))
	require.NoError(t, err)
	assert.Equal(t, "<error>Invalid XML</error>", readResponse(t, conn))
	assert.Equal(t, 0, notifier.count())

	// The same connection must still process a subsequent valid message.
	_, err = conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)
	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	assert.Equal(t, 1, notifier.count())
}

func TestClosedWindowSuppressesEscalation(t *testing.T) {
	// Build a window that is guaranteed closed right now.
	now := time.Now().UTC()
	start := now.Add(2 * time.Hour).Format("15:04")
	end := now.Add(3 * time.Hour).Format("15:04")

	notifier := &fakeNotifier{}
	l := startListener(t, start, end, []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	_, err := conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)

	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	assert.Equal(t, 0, notifier.count())
}

func TestUnlistedAlarmTypeNotEscalated(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"FIREALARM"}, notifier)

	conn := dial(t, l)
	_, err := conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)

	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	assert.Equal(t, 0, notifier.count())
}

func TestHeartbeatNotEscalated(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	heartbeat := `<config><DataTime>2025-01-15 12:00:00</DataTime><DeviceInfo><DeviceName>Lobby</DeviceName></DeviceInfo></config>`
	_, err := conn.Write([]byte(heartbeat))
	require.NoError(t, err)

	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	assert.Equal(t, 0, notifier.count())
}

func TestPagingFailureKeepsConnectionAlive(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("pagerduty unavailable")}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	_, err := conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)
	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))

	_, err = conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)
	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))

	assert.Equal(t, 2, notifier.count())
}

func TestConcurrentConnections(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	// A peer that connects and stalls must not delay other connections.
	stalled := dial(t, l)
	_, err := stalled.Write([]byte("<config><alarmStatus"))
	require.NoError(t, err)

	const peers = 5
	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", l.Addr().String())
			if err != nil {
				return
			}
			defer conn.Close()
			if _, err := conn.Write([]byte(canonicalAlarm)); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			buf := make([]byte, 256)
			conn.Read(buf)
		}()
	}
	wg.Wait()

	assert.Equal(t, peers, notifier.count())
}

func TestMessageSizeLimitClosesConnection(t *testing.T) {
	notifier := &fakeNotifier{}
	w, err := gate.NewWindow("00:00", "23:59", "UTC")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Listener.MaxMessageBytes = 64

	l := New(cfg, w, gate.NewAllowlist([]string{"TRIPWIREALARM"}), notifier, nil)
	require.NoError(t, l.Listen())
	go l.Serve()
	t.Cleanup(func() { l.Close() })

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(canonicalAlarm))
	require.NoError(t, err)

	// The handler closes the connection without a response.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err)
	assert.Equal(t, 0, notifier.count())
}

func TestMessageEndFraming(t *testing.T) {
	httpReq := "POST /SendAlarmData HTTP/1.1\r\nContent-Length: 4\r\n\r\nabcd"
	tests := []struct {
		name string
		buf  string
		end  int
	}{
		{"empty", "", -1},
		{"partial raw", "<config><alarmStatusInfo>", -1},
		{"complete raw", canonicalAlarm, len(canonicalAlarm)},
		{"raw with trailing newline", canonicalAlarm + "\n", len(canonicalAlarm)},
		{"raw followed by partial next doc", canonicalAlarm + "<config><alarm", len(canonicalAlarm)},
		{"http headers only", "POST /SendAlarmData HTTP/1.1\r\nContent-Length: 10\r\n\r\n", -1},
		{"http full body", httpReq, len(httpReq)},
		{"http lowercase content-length", "POST /x HTTP/1.1\r\ncontent-length: 4\r\n\r\nabcd", 43},
		{"http pipelined pair", httpReq + httpReq, len(httpReq)},
		{"http no content length", "POST /SendKeepalive HTTP/1.1\r\nHost: x\r\n\r\n", -1},
		{"http headers incomplete", "POST /SendAlarmData HTTP/1.1\r\nContent-Le", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.end, messageEnd([]byte(tt.buf)))
		})
	}
}

func TestSplitMessageKeepsPipelinedRemainder(t *testing.T) {
	first := "POST /a HTTP/1.1\r\nContent-Length: 4\r\n\r\nabcd"
	second := "POST /b HTTP/1.1\r\nContent-Length: 2\r\n\r\nxy"

	var residual []byte
	msg, ok := splitMessage([]byte(first+second), &residual)
	require.True(t, ok)
	assert.Equal(t, first, string(msg))
	assert.Equal(t, second, string(residual))

	residual = nil
	msg, ok = splitMessage([]byte(canonicalAlarm+"\r\n"), &residual)
	require.True(t, ok)
	assert.Equal(t, canonicalAlarm, string(msg))
	assert.Empty(t, residual)
}

func TestPipelinedHTTPAlarmsAllEscalate(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	req := fmt.Sprintf("POST /SendAlarmData HTTP/1.1\r\nHost: 10.0.0.5\r\nContent-Length: %d\r\n\r\n%s",
		len(canonicalAlarm), canonicalAlarm)

	// Two complete requests in a single burst must both be processed.
	_, err := conn.Write([]byte(req + req))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return notifier.count() == 2 },
		3*time.Second, 10*time.Millisecond)
}

func TestPipelinedRawDocumentsAllEscalate(t *testing.T) {
	notifier := &fakeNotifier{}
	l := startListener(t, "00:00", "23:59", []string{"TRIPWIREALARM"}, notifier)

	conn := dial(t, l)
	doc := `<?xml version="1.0"?>` + canonicalAlarm
	_, err := conn.Write([]byte(doc + doc))
	require.NoError(t, err)

	assert.Equal(t, "<response>OK</response>", readResponse(t, conn))
	require.Eventually(t, func() bool { return notifier.count() == 2 },
		3*time.Second, 10*time.Millisecond)
}
