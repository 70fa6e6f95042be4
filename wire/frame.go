package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// HeaderSize is the fixed width of the frame length header: the payload
	// length as a left-justified ASCII decimal, padded with spaces.
	HeaderSize = 64

	// MaxFrameSize bounds the payload length a header may announce. Anything
	// larger is treated as a protocol violation before any allocation.
	MaxFrameSize = 16 << 20
)

var (
	ErrConnectionClosed = errors.New("wire: connection closed by peer")
	ErrProtocol         = errors.New("wire: bad frame header")
)

// WriteFrame writes one length-prefixed frame, retrying until every byte is
// on the wire. Short writes are resumed, never dropped.
func WriteFrame(w io.Writer, payload []byte) error {
	header := make([]byte, HeaderSize)
	n := copy(header, strconv.Itoa(len(payload)))
	for i := n; i < HeaderSize; i++ {
		header[i] = ' '
	}
	if err := writeAll(w, header); err != nil {
		return err
	}
	return writeAll(w, payload)
}

// ReadFrame reads exactly one frame, accumulating over as many reads as the
// socket needs. Returns ErrConnectionClosed when the peer has gone away and
// ErrProtocol when the header is not a decimal integer within MaxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	return NewFrameReader(r).Next()
}

// FrameReader reads frames while keeping partial progress across calls. A
// read deadline firing mid-frame surfaces as an error from Next, but the
// bytes already consumed stay buffered; calling Next again resumes the same
// frame instead of desynchronizing the stream.
type FrameReader struct {
	r      io.Reader
	head   []byte
	body   []byte
	off    int
	inBody bool
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next complete frame payload.
func (fr *FrameReader) Next() ([]byte, error) {
	if !fr.inBody {
		if fr.head == nil {
			fr.head = make([]byte, HeaderSize)
			fr.off = 0
		}
		if err := fr.fill(fr.head); err != nil {
			return nil, err
		}

		size, err := parseHeader(fr.head)
		fr.head = nil
		if err != nil {
			return nil, err
		}
		fr.body = make([]byte, size)
		fr.off = 0
		fr.inBody = true
	}

	if err := fr.fill(fr.body); err != nil {
		return nil, err
	}

	payload := fr.body
	fr.body = nil
	fr.inBody = false
	fr.off = 0
	return payload, nil
}

// fill reads until buf is full, advancing fr.off so an interrupted read can
// pick up where it stopped.
func (fr *FrameReader) fill(buf []byte) error {
	for fr.off < len(buf) {
		n, err := fr.r.Read(buf[fr.off:])
		fr.off += n
		if fr.off == len(buf) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return ErrConnectionClosed
			}
			return err
		}
	}
	return nil
}

func parseHeader(header []byte) (int, error) {
	text := strings.TrimRight(string(header), " ")
	size, err := strconv.Atoi(text)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", ErrProtocol, text)
	}
	if size > MaxFrameSize {
		return 0, fmt.Errorf("%w: length %d exceeds limit", ErrProtocol, size)
	}
	return size, nil
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
