package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMarkupStripsTagPeriods(t *testing.T) {
	in := `<DeviceInfo><DeviceNo.>1</DeviceNo.><ipAddress>10.0.0.5</ipAddress></DeviceInfo>`
	out := sanitizeMarkup(in)
	assert.Equal(t, `<DeviceInfo><DeviceNo>1</DeviceNo><ipAddress>10.0.0.5</ipAddress></DeviceInfo>`, out)
}

func TestSanitizeMarkupLeavesTextContentAlone(t *testing.T) {
	in := `<ipAddress>10.0.0.5</ipAddress>`
	assert.Equal(t, in, sanitizeMarkup(in))
}

func TestParseDocumentTree(t *testing.T) {
	root, err := parseDocument(`<config><DeviceInfo><DeviceName>Lobby</DeviceName><DeviceNo.>1</DeviceNo.></DeviceInfo></config>`)
	require.NoError(t, err)

	assert.Equal(t, "config", root.name)
	info := root.findFirst("DeviceInfo")
	require.NotNil(t, info)
	assert.Equal(t, "Lobby", info.childText("DeviceName"))
	assert.Equal(t, "1", info.childText("DeviceNo"))
	assert.Equal(t, "", info.childText("missing"))
}

func TestParseDocumentAttributes(t *testing.T) {
	root, err := parseDocument(`<config><alarmStatusInfo><tripwireAlarm type="boolean" id="4" name="Entrance">true</tripwireAlarm></alarmStatusInfo></config>`)
	require.NoError(t, err)

	alarm := root.findFirst("tripwireAlarm")
	require.NotNil(t, alarm)
	assert.Equal(t, "boolean", alarm.attrs["type"])
	assert.Equal(t, "4", alarm.attrs["id"])
	assert.Equal(t, "Entrance", alarm.attrs["name"])
	assert.Equal(t, "true", alarm.text)
}

func TestParseDocumentErrors(t *testing.T) {
	_, err := parseDocument(``)
	assert.Error(t, err)

	_, err = parseDocument(`<config><open>`)
	assert.Error(t, err)
}
