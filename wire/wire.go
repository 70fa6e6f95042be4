package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Version tags. The first byte of every payload selects the encoding.
const (
	VersionBinary byte = '1'
	VersionJSON   byte = '2'
)

// Opcode is a two-ASCII-digit operation code.
type Opcode string

const (
	OpSuccess       Opcode = "00"
	OpFailure       Opcode = "01"
	OpDeliverNow    Opcode = "02"
	OpLogin         Opcode = "10"
	OpCreateAccount Opcode = "11"
	OpDeleteAccount Opcode = "12"
	OpListAccounts  Opcode = "13"
	OpSendMessage   Opcode = "14"
	OpReadMessages  Opcode = "15"
	OpDeleteMessage Opcode = "16"
	OpLogout        Opcode = "17"
)

// TimeLayout is the timestamp format messages carry on the wire.
const TimeLayout = "2006-01-02 15:04:05.000000"

var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// Envelope is one protocol message. Exactly one of Fields and Records is
// set, or neither for operations without a payload.
type Envelope struct {
	Version byte
	Op      Opcode
	Fields  map[string]string
	Records []map[string]string
}

// ListShaped reports whether a payload answering op carries a record list
// rather than a flat field map. The binary grammar is not self-describing,
// so decoders key off the operation being answered.
func ListShaped(op Opcode) bool {
	return op == OpListAccounts || op == OpReadMessages
}

func validOp(op Opcode) bool {
	if len(op) != 2 {
		return false
	}
	return op[0] >= '0' && op[0] <= '9' && op[1] >= '0' && op[1] <= '9'
}

// Encode serializes an envelope using the encoding named by its version tag.
func Encode(env *Envelope) ([]byte, error) {
	if !validOp(env.Op) {
		return nil, fmt.Errorf("%w: bad opcode %q", ErrMalformedEnvelope, env.Op)
	}
	switch env.Version {
	case VersionBinary:
		return encodeBinary(env)
	case VersionJSON:
		return encodeJSON(env)
	default:
		return nil, fmt.Errorf("%w: unknown version %q", ErrMalformedEnvelope, env.Version)
	}
}

// Decode parses a frame payload, picking the encoding from the first byte.
// list tells the binary decoder to read the info section as a record list;
// callers derive it from ListShaped on the operation the payload answers.
// The JSON encoding is self-describing and ignores the hint.
func Decode(data []byte, list bool) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedEnvelope)
	}
	switch data[0] {
	case VersionBinary:
		return decodeBinary(data, list)
	case VersionJSON:
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("%w: unknown version %q", ErrMalformedEnvelope, data[0])
	}
}

// PeekOp extracts the operation code without decoding the payload. Readers
// use it to tell pushes from responses before committing to an info shape.
func PeekOp(data []byte) (Opcode, error) {
	if len(data) < 3 {
		return "", fmt.Errorf("%w: truncated header", ErrMalformedEnvelope)
	}
	switch data[0] {
	case VersionBinary:
		op := Opcode(data[1:3])
		if !validOp(op) {
			return "", fmt.Errorf("%w: bad opcode %q", ErrMalformedEnvelope, op)
		}
		return op, nil
	case VersionJSON:
		var doc jsonEnvelope
		if err := json.Unmarshal(data[1:], &doc); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		op := Opcode(doc.Type)
		if !validOp(op) {
			return "", fmt.Errorf("%w: bad opcode %q", ErrMalformedEnvelope, op)
		}
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown version %q", ErrMalformedEnvelope, data[0])
	}
}

func encodeBinary(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(env.Version)
	buf.WriteString(string(env.Op))

	switch {
	case env.Records != nil:
		writeUint32(&buf, uint32(len(env.Records)))
		for _, rec := range env.Records {
			enc := encodeFieldMap(rec)
			writeUint32(&buf, uint32(len(enc)))
			buf.Write(enc)
		}
	case len(env.Fields) > 0:
		buf.Write(encodeFieldMap(env.Fields))
	}
	return buf.Bytes(), nil
}

// encodeFieldMap writes a flat sequence of length-prefixed key/value pairs.
// Keys are sorted so the output is deterministic.
func encodeFieldMap(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		writeUint32(&buf, uint32(len(k)))
		buf.WriteString(k)
		v := fields[k]
		writeUint32(&buf, uint32(len(v)))
		buf.WriteString(v)
	}
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func decodeBinary(data []byte, list bool) (*Envelope, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedEnvelope)
	}
	env := &Envelope{
		Version: data[0],
		Op:      Opcode(data[1:3]),
	}
	if !validOp(env.Op) {
		return nil, fmt.Errorf("%w: bad opcode %q", ErrMalformedEnvelope, env.Op)
	}

	info := data[3:]
	if len(info) == 0 {
		return env, nil
	}

	if list {
		records, err := decodeRecordList(info)
		if err != nil {
			return nil, err
		}
		env.Records = records
		return env, nil
	}

	fields, err := decodeFieldMap(info)
	if err != nil {
		return nil, err
	}
	env.Fields = fields
	return env, nil
}

func decodeFieldMap(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	for len(data) > 0 {
		key, rest, err := readChunk(data)
		if err != nil {
			return nil, err
		}
		value, rest, err := readChunk(rest)
		if err != nil {
			return nil, err
		}
		fields[string(key)] = string(value)
		data = rest
	}
	return fields, nil
}

func decodeRecordList(data []byte) ([]map[string]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated record count", ErrMalformedEnvelope)
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	records := make([]map[string]string, 0, count)
	for i := uint32(0); i < count; i++ {
		element, rest, err := readChunk(data)
		if err != nil {
			return nil, err
		}
		fields, err := decodeFieldMap(element)
		if err != nil {
			return nil, err
		}
		records = append(records, fields)
		data = rest
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after record list", ErrMalformedEnvelope, len(data))
	}
	return records, nil
}

// readChunk reads one 4-byte big-endian length prefix and that many bytes.
func readChunk(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", ErrMalformedEnvelope)
	}
	size := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < size {
		return nil, nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformedEnvelope, size, len(data))
	}
	return data[:size], data[size:], nil
}

// jsonEnvelope mirrors the fallback document layout: the whole envelope as
// one object with keys version, type and info.
type jsonEnvelope struct {
	Version string          `json:"version"`
	Type    string          `json:"type"`
	Info    json.RawMessage `json:"info"`
}

func encodeJSON(env *Envelope) ([]byte, error) {
	doc := jsonEnvelope{
		Version: string(env.Version),
		Type:    string(env.Op),
	}

	var err error
	switch {
	case env.Records != nil:
		doc.Info, err = json.Marshal(env.Records)
	case env.Fields != nil:
		doc.Info, err = json.Marshal(env.Fields)
	default:
		doc.Info = json.RawMessage(`{}`)
	}
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(env.Version)
	buf.Write(body)
	return buf.Bytes(), nil
}

func decodeJSON(data []byte) (*Envelope, error) {
	var doc jsonEnvelope
	if err := json.Unmarshal(data[1:], &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(doc.Version) != 1 || doc.Version[0] != data[0] {
		return nil, fmt.Errorf("%w: version tag mismatch", ErrMalformedEnvelope)
	}
	env := &Envelope{
		Version: data[0],
		Op:      Opcode(doc.Type),
	}
	if !validOp(env.Op) {
		return nil, fmt.Errorf("%w: bad opcode %q", ErrMalformedEnvelope, env.Op)
	}

	trimmed := bytes.TrimSpace(doc.Info)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		// no payload
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &env.Records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if env.Records == nil {
			env.Records = []map[string]string{}
		}
	case trimmed[0] == '{':
		fields := make(map[string]string)
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if len(fields) > 0 {
			env.Fields = fields
		}
	default:
		return nil, fmt.Errorf("%w: unexpected info shape", ErrMalformedEnvelope)
	}
	return env, nil
}
