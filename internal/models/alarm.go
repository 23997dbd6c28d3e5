// Package models defines the shared core data structures used throughout the alarmgate service.
package models

import "strings"

// MessageKind classifies a decoded device document.
type MessageKind string

const (
	// KindAlarm is a document carrying one or more alarm status signals.
	KindAlarm MessageKind = "alarm"
	// KindHeartbeat is a periodic keepalive carrying device identity only.
	KindHeartbeat MessageKind = "heartbeat"
	// KindUnknown is a document that matched neither known shape.
	KindUnknown MessageKind = "unknown"
)

// DeviceInfo identifies the recorder that sent a message. All fields are
// optional; the HTTP POST variant typically carries fewer of them.
type DeviceInfo struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	Serial string `json:"serial,omitempty"`
	IP     string `json:"ip,omitempty"`
	MAC    string `json:"mac,omitempty"`
}

// AlarmRecord is the canonical normalized form of one alarm signal extracted
// from a device document. A record is fully populated by the decoder or not
// produced at all; it is never mutated after construction.
//
// AlarmType preserves the casing the device sent (tag names are mixed case,
// e.g. "tripwireAlarm"); allowlist matching always goes through
// NormalizedType, which upper-cases.
type AlarmRecord struct {
	AlarmType string     `json:"alarm_type"`
	AlarmID   string     `json:"alarm_id,omitempty"`
	AlarmName string     `json:"alarm_name,omitempty"`
	Triggered bool       `json:"triggered"`
	Device    DeviceInfo `json:"device"`
	RawSource string     `json:"raw_source"`
}

// NormalizedType returns the alarm type in the fixed upper-case form used for
// allowlist membership checks.
func (r *AlarmRecord) NormalizedType() string {
	return strings.ToUpper(r.AlarmType)
}

// Message is one decoded device document: a heartbeat, a batch of alarm
// records, or an unknown document retained for logging.
type Message struct {
	Kind      MessageKind
	Device    DeviceInfo
	Records   []AlarmRecord
	RawSource string
}
