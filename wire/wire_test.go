package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		list bool
		env  *Envelope
	}{
		{
			name: "login request",
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpLogin,
				Fields:  map[string]string{"username": "alice", "password": "deadbeef"},
			},
		},
		{
			name: "empty payload",
			env:  &Envelope{Version: VersionBinary, Op: OpLogout},
		},
		{
			name: "success with message",
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpSuccess,
				Fields:  map[string]string{"message": "account created"},
			},
		},
		{
			name: "account list",
			list: true,
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpSuccess,
				Records: []map[string]string{
					{"username": "alice"},
					{"username": "bob"},
				},
			},
		},
		{
			name: "empty account list",
			list: true,
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpSuccess,
				Records: []map[string]string{},
			},
		},
		{
			name: "message history",
			list: true,
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpSuccess,
				Records: []map[string]string{
					{
						"sender":    "alice",
						"receiver":  "bob",
						"message":   "hi there",
						"timestamp": "2025-03-01 10:30:00.123456",
					},
				},
			},
		},
		{
			name: "binary survives arbitrary text",
			env: &Envelope{
				Version: VersionBinary,
				Op:      OpSendMessage,
				Fields: map[string]string{
					"sender":   "alice",
					"receiver": "bob",
					"message":  "lengths | beat \x00 delimiters\nalways",
				},
			},
		},
		{
			name: "json request",
			env: &Envelope{
				Version: VersionJSON,
				Op:      OpSendMessage,
				Fields:  map[string]string{"sender": "alice", "receiver": "bob", "message": "hello"},
			},
		},
		{
			name: "json list response",
			env: &Envelope{
				Version: VersionJSON,
				Op:      OpSuccess,
				Records: []map[string]string{
					{"username": "alice"},
				},
			},
		},
		{
			name: "json empty payload",
			env:  &Envelope{Version: VersionJSON, Op: OpReadMessages},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.env)
			require.NoError(t, err)
			require.NotEmpty(t, data)
			assert.Equal(t, tt.env.Version, data[0])

			decoded, err := Decode(data, tt.list)
			require.NoError(t, err)
			assert.Equal(t, tt.env, decoded)
		})
	}
}

func TestDecodeFormatDispatch(t *testing.T) {
	// The first byte alone selects the encoding.
	binEnv := &Envelope{Version: VersionBinary, Op: OpLogout}
	jsonEnv := &Envelope{Version: VersionJSON, Op: OpLogout}

	binData, err := Encode(binEnv)
	require.NoError(t, err)
	jsonData, err := Encode(jsonEnv)
	require.NoError(t, err)

	assert.Equal(t, byte('1'), binData[0])
	assert.Equal(t, byte('2'), jsonData[0])

	got, err := Decode(binData, false)
	require.NoError(t, err)
	assert.Equal(t, VersionBinary, got.Version)

	got, err = Decode(jsonData, false)
	require.NoError(t, err)
	assert.Equal(t, VersionJSON, got.Version)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		list bool
	}{
		{name: "empty", data: nil},
		{name: "unknown version", data: []byte("9xx")},
		{name: "truncated opcode", data: []byte("1x")},
		{name: "non-digit opcode", data: []byte("1ab")},
		{name: "truncated length prefix", data: []byte("110\x00\x00")},
		{name: "length beyond payload", data: []byte("110\x00\x00\x00\x08user")},
		{name: "missing value chunk", data: []byte("110\x00\x00\x00\x03key")},
		{name: "truncated record count", data: append([]byte("100"), 0x00, 0x00), list: true},
		{name: "record count without elements", data: append([]byte("100"), 0x00, 0x00, 0x00, 0x02), list: true},
		{name: "bad json body", data: []byte(`2{"version":`)},
		{name: "json version mismatch", data: []byte(`2{"version":"1","type":"00","info":{}}`)},
		{name: "json bad opcode", data: []byte(`2{"version":"2","type":"zz","info":{}}`)},
		{name: "json scalar info", data: []byte(`2{"version":"2","type":"00","info":42}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.list)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestEncodeRejectsBadOpcode(t *testing.T) {
	_, err := Encode(&Envelope{Version: VersionBinary, Op: "bad"})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = Encode(&Envelope{Version: byte('7'), Op: OpLogin})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestPeekOp(t *testing.T) {
	env := &Envelope{
		Version: VersionBinary,
		Op:      OpDeliverNow,
		Fields:  map[string]string{"sender": "bob", "message": "hi"},
	}
	data, err := Encode(env)
	require.NoError(t, err)

	op, err := PeekOp(data)
	require.NoError(t, err)
	assert.Equal(t, OpDeliverNow, op)

	env.Version = VersionJSON
	data, err = Encode(env)
	require.NoError(t, err)

	op, err = PeekOp(data)
	require.NoError(t, err)
	assert.Equal(t, OpDeliverNow, op)

	_, err = PeekOp([]byte("1"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestListShaped(t *testing.T) {
	assert.True(t, ListShaped(OpListAccounts))
	assert.True(t, ListShaped(OpReadMessages))
	assert.False(t, ListShaped(OpSendMessage))
	assert.False(t, ListShaped(OpSuccess))
}
