// Package decoder turns raw bytes received from a recorder connection into
// normalized device messages. It disambiguates the two wire formats the
// recorders use on the same port (a bare XML document, or an HTTP POST whose
// body is that document) and tolerates the not-quite-XML markup embedded
// firmware emits.
package decoder

import (
	"fmt"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"alarmgate/internal/models"
)

// maxErrPayload caps how much of a rejected payload is echoed into the
// decode error for diagnostics.
const maxErrPayload = 256

var httpMethods = []string{"POST", "GET", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH"}

// docPattern matches one complete alarm document; recorders sometimes
// concatenate several into a single TCP message.
var docPattern = regexp.MustCompile(`(?s)<\?xml.*?</config>`)

// Decode classifies the payload's wire format and returns the device
// messages it contains. A nil error with zero messages never occurs: either
// at least one message is returned or the payload is rejected.
func Decode(raw []byte) ([]models.Message, error) {
	if IsHTTP(raw) {
		return decodeHTTP(raw)
	}
	return decodeRaw(raw)
}

// IsHTTP reports whether the payload begins with an HTTP request line
// (method token, space, path).
func IsHTTP(raw []byte) bool {
	s := string(raw)
	for _, m := range httpMethods {
		if strings.HasPrefix(s, m+" ") {
			return true
		}
	}
	return false
}

// decodeRaw handles the bare-XML variant. The payload may hold several
// concatenated documents; each is parsed and classified independently.
func decodeRaw(raw []byte) ([]models.Message, error) {
	text := string(raw)
	docs := docPattern.FindAllString(text, -1)
	if len(docs) == 0 {
		// No XML declaration; treat the whole payload as one document.
		docs = []string{strings.TrimSpace(text)}
	}

	var msgs []models.Message
	for _, doc := range docs {
		root, err := parseDocument(doc)
		if err != nil {
			return nil, decodeError(err, raw)
		}
		msgs = append(msgs, buildMessage(root, doc))
	}
	return msgs, nil
}

// buildMessage classifies a parsed document and extracts its payload.
// The classification mirrors the recorders' behavior: a document with an
// alarmStatusInfo element is an alarm batch, one with DataTime plus
// DeviceInfo is a heartbeat, anything else is unknown.
func buildMessage(root *element, doc string) models.Message {
	device := extractDevice(root)

	if status := root.findFirst("alarmStatusInfo"); status != nil {
		return models.Message{
			Kind:      models.KindAlarm,
			Device:    device,
			Records:   extractRecords(status, device, doc),
			RawSource: doc,
		}
	}
	if root.findFirst("DataTime") != nil && root.findFirst("DeviceInfo") != nil {
		return models.Message{Kind: models.KindHeartbeat, Device: device, RawSource: doc}
	}
	return models.Message{Kind: models.KindUnknown, Device: device, RawSource: doc}
}

// extractRecords yields one AlarmRecord per alarm-status child that is a
// leaf signal. Children that themselves contain elements are containers,
// not signals, and are skipped.
func extractRecords(status *element, device models.DeviceInfo, doc string) []models.AlarmRecord {
	var records []models.AlarmRecord
	for _, child := range status.children {
		if len(child.children) > 0 {
			continue
		}
		records = append(records, models.AlarmRecord{
			AlarmType: child.name,
			AlarmID:   child.attrs["id"],
			AlarmName: child.attrs["name"],
			Triggered: strings.EqualFold(strings.TrimSpace(child.text), "true"),
			Device:    device,
			RawSource: doc,
		})
	}
	return records
}

// extractDevice pulls recorder identity out of the DeviceInfo block when
// present. The "DeviceNo." tag loses its period during sanitization, so the
// lookup uses the sanitized name.
func extractDevice(root *element) models.DeviceInfo {
	info := root.findFirst("DeviceInfo")
	if info == nil {
		return models.DeviceInfo{}
	}
	return models.DeviceInfo{
		Name:   strings.TrimSpace(info.childText("DeviceName")),
		Number: strings.TrimSpace(info.childText("DeviceNo")),
		Serial: strings.TrimSpace(info.childText("SN")),
		IP:     strings.TrimSpace(info.childText("ipAddress")),
		MAC:    strings.TrimSpace(info.childText("macAddress")),
	}
}

// decodeHTTP handles the HTTP POST variant: strip the request line and
// headers, bound the body by Content-Length when present, then decode the
// body as an alarm document. A keepalive path short-circuits to a heartbeat
// without parsing the body.
func decodeHTTP(raw []byte) ([]models.Message, error) {
	req, err := parseRequest(raw)
	if err != nil {
		return nil, decodeError(err, raw)
	}

	if strings.Contains(req.path, "SendKeepalive") {
		return []models.Message{{
			Kind:      models.KindHeartbeat,
			Device:    models.DeviceInfo{IP: req.headers["Host"]},
			RawSource: string(raw),
		}}, nil
	}

	body := strings.TrimSpace(req.body)
	if body == "" {
		return nil, decodeError(fmt.Errorf("empty request body for path %s", req.path), raw)
	}
	root, err := parseDocument(body)
	if err != nil {
		return nil, decodeError(err, raw)
	}

	// The POST body is the same class of document as the raw variant; when
	// it carries an alarmStatusInfo block, decode it identically so the two
	// formats yield the same records.
	if root.findFirst("alarmStatusInfo") != nil || root.findFirst("DataTime") != nil {
		return []models.Message{buildMessage(root, body)}, nil
	}
	return []models.Message{buildSmartMessage(root, body)}, nil
}

// buildSmartMessage handles the SendAlarmData POST shape, which reports a
// single event via a smartType element instead of an alarm-status block.
// Such an event is implicitly in the triggered state.
func buildSmartMessage(root *element, body string) models.Message {
	device := models.DeviceInfo{
		Name:   strings.TrimSpace(root.findText("deviceName")),
		Serial: strings.TrimSpace(root.findText("sn")),
		MAC:    strings.TrimSpace(root.findText("mac")),
	}
	smartType := strings.TrimSpace(root.findText("smartType"))
	if smartType == "" {
		return models.Message{Kind: models.KindUnknown, Device: device, RawSource: body}
	}
	return models.Message{
		Kind:   models.KindAlarm,
		Device: device,
		Records: []models.AlarmRecord{{
			AlarmType: smartType,
			AlarmName: strings.TrimSpace(root.findText("name")),
			Triggered: true,
			Device:    device,
			RawSource: body,
		}},
		RawSource: body,
	}
}

type httpRequest struct {
	method  string
	path    string
	headers map[string]string
	body    string
}

// parseRequest splits an HTTP/1.x request into its line, headers and body,
// honoring Content-Length when the header is present. A request with no
// blank-line terminator is malformed.
func parseRequest(raw []byte) (*httpRequest, error) {
	text := string(raw)
	head, body, ok := strings.Cut(text, "\r\n\r\n")
	if !ok {
		head, body, ok = strings.Cut(text, "\n\n")
	}
	if !ok {
		return nil, fmt.Errorf("truncated HTTP request: missing header terminator")
	}

	lines := strings.Split(head, "\n")
	fields := strings.Fields(strings.TrimRight(lines[0], "\r"))
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed HTTP request line %q", lines[0])
	}
	req := &httpRequest{
		method:  fields[0],
		path:    fields[1],
		headers: make(map[string]string),
	}
	for _, line := range lines[1:] {
		key, val, found := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if found {
			// Devices are sloppy about header casing; store canonical keys.
			canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
			req.headers[canonical] = strings.TrimSpace(val)
		}
	}

	if cl := req.headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", cl)
		}
		if len(body) < n {
			return nil, fmt.Errorf("truncated HTTP body: have %d of %d bytes", len(body), n)
		}
		body = body[:n]
	}
	req.body = body
	return req, nil
}

func decodeError(err error, raw []byte) error {
	payload := string(raw)
	if len(payload) > maxErrPayload {
		payload = payload[:maxErrPayload] + "..."
	}
	return fmt.Errorf("decode alarm payload: %w (payload %q)", err, payload)
}
