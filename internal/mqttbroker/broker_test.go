package mqttbroker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"campusnav/scanner/SC_D103", "campusnav/scanner/SC_D103", true},
		{"campusnav/scanner/+", "campusnav/scanner/SC_D103", true},
		{"campusnav/scanner/+", "campusnav/scanner/SC_A201", true},
		{"campusnav/scanner/+", "campusnav/scanner/SC_D103/extra", false},
		{"campusnav/scanner/+", "campusnav/other/SC_D103", false},
		{"campusnav/#", "campusnav/scanner/SC_D103", true},
		{"campusnav/#", "campusnav", false},
		{"#", "anything/at/all", true},
		{"+/scanner/+", "campusnav/scanner/SC_D103", true},
		{"campusnav/scanner", "campusnav/scanner/SC_D103", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, topicMatches(tc.filter, tc.topic), "filter %q topic %q", tc.filter, tc.topic)
	}
}

func buildRawPublish(topic string, packetID uint16, qos byte, payload []byte) (byte, []byte) {
	header := byte(0x30) | (qos << 1)
	var body []byte
	body = append(body, byte(len(topic)>>8), byte(len(topic)&0xFF))
	body = append(body, topic...)
	if qos == 1 {
		body = append(body, byte(packetID>>8), byte(packetID&0xFF))
	}
	body = append(body, payload...)
	return header, body
}

func TestParsePublishQoS0(t *testing.T) {
	header, body := buildRawPublish("campusnav/scanner/SC_D103", 0, 0, []byte(`{"rssi":-55}`))

	msg, packetID, qos, err := parsePublish(header, body)
	require.NoError(t, err)
	assert.Equal(t, "campusnav/scanner/SC_D103", msg.Topic)
	assert.Equal(t, []byte(`{"rssi":-55}`), msg.Payload)
	assert.Equal(t, byte(0), qos)
	assert.Equal(t, uint16(0), packetID)
}

func TestParsePublishQoS1CarriesPacketID(t *testing.T) {
	header, body := buildRawPublish("campusnav/scanner/SC_D103", 42, 1, []byte(`{"rssi":-55}`))

	msg, packetID, qos, err := parsePublish(header, body)
	require.NoError(t, err)
	assert.Equal(t, byte(1), qos)
	assert.Equal(t, uint16(42), packetID)
	assert.Equal(t, []byte(`{"rssi":-55}`), msg.Payload)
}

func TestParsePublishRejectsQoS2(t *testing.T) {
	header, body := buildRawPublish("t", 7, 2, nil)

	_, _, _, err := parsePublish(header, body)
	assert.Error(t, err)
}

func TestBuildSubAckGrantsRequestedQoS(t *testing.T) {
	packet, err := buildSubAck(7, []byte{1, 0})
	require.NoError(t, err)

	assert.Equal(t, byte(0x90), packet[0])
	assert.Equal(t, []byte{0x00, 0x07, 0x01, 0x00}, packet[2:])
}

func TestEncodeRemainingLengthRoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 127, 128, 16383, 16384, 2097151} {
		encoded := encodeRemainingLength(length)
		rd := bytesReader(encoded)

		value := 0
		multiplier := 1
		for {
			digit, err := rd.readByte()
			require.NoError(t, err)
			value += int(digit&127) * multiplier
			if digit&128 == 0 {
				break
			}
			multiplier *= 128
		}
		assert.Equal(t, length, value)
	}
}
