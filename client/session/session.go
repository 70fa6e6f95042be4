// Package session implements the client side of the chatwire protocol: a
// synchronous request/response path and a background poller that picks up
// messages the server pushes outside any request cycle. Both paths share
// one socket and are serialized by the session mutex.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatwire/auth"
	"chatwire/models"
	"chatwire/wire"
)

var ErrClosed = errors.New("session: connection closed")

// ServerError is a FAILURE response; Message is the server's own text.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// PushHandler receives a message delivered out-of-band. It runs on its own
// goroutine and may call back into the session.
type PushHandler func(models.Message)

type Config struct {
	Addr           string
	OnPush         PushHandler
	Logger         zerolog.Logger
	RequestTimeout time.Duration // response wait; default 10s
	Version        byte          // wire encoding for requests; default binary
}

type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	// mu serializes socket access between the request path and the push
	// poller: the request path holds it for a full send+receive cycle,
	// the poller only for one short probe.
	mu sync.Mutex

	userMu      sync.RWMutex
	currentUser string

	onPush  PushHandler
	log     zerolog.Logger
	version byte
	timeout time.Duration

	done     chan struct{}
	shutdown sync.Once
}

const (
	defaultTimeout = 10 * time.Second
	pollInterval   = 50 * time.Millisecond
	probeTimeout   = 5 * time.Millisecond
)

// Dial connects and starts the background push poller.
func Dial(cfg Config) (*Session, error) {
	conn, err := net.DialTimeout("tcp", cfg.Addr, defaultTimeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		onPush:  cfg.OnPush,
		log:     cfg.Logger,
		version: cfg.Version,
		timeout: cfg.RequestTimeout,
		done:    make(chan struct{}),
	}
	if s.version == 0 {
		s.version = wire.VersionBinary
	}
	if s.timeout == 0 {
		s.timeout = defaultTimeout
	}

	go s.pollLoop()
	return s, nil
}

// CurrentUser returns the logged-in username, empty when logged out.
func (s *Session) CurrentUser() string {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	return s.currentUser
}

func (s *Session) setUser(username string) {
	s.userMu.Lock()
	s.currentUser = username
	s.userMu.Unlock()
}

// CreateAccount registers a new account. The password never leaves the
// client in plaintext.
func (s *Session) CreateAccount(username, password string) error {
	_, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpCreateAccount,
		Fields: map[string]string{
			"username": username,
			"password": auth.HashPassword(password),
		},
	})
	return err
}

// Login authenticates and binds this connection to the username.
func (s *Session) Login(username, password string) error {
	_, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpLogin,
		Fields: map[string]string{
			"username": username,
			"password": auth.HashPassword(password),
		},
	})
	if err != nil {
		return err
	}
	s.setUser(username)
	return nil
}

// Logout releases the server-side binding, then tears the session down.
func (s *Session) Logout() error {
	_, err := s.request(&wire.Envelope{Version: s.version, Op: wire.OpLogout})
	s.Close()
	return err
}

// ListAccounts returns all usernames starting with search.
func (s *Session) ListAccounts(search string) ([]string, error) {
	resp, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpListAccounts,
		Fields:  map[string]string{"search_string": search},
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Records))
	for _, rec := range resp.Records {
		names = append(names, rec["username"])
	}
	return names, nil
}

// SendMessage sends content to receiver from the logged-in user.
func (s *Session) SendMessage(receiver, content string) error {
	_, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpSendMessage,
		Fields: map[string]string{
			"sender":   s.CurrentUser(),
			"receiver": receiver,
			"message":  content,
		},
	})
	return err
}

// ReadMessages collects any pending unread messages into the mailbox and
// returns the full history, oldest first.
func (s *Session) ReadMessages() ([]models.Message, error) {
	resp, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpReadMessages,
		Fields:  map[string]string{"username": s.CurrentUser()},
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(resp.Records))
	for _, rec := range resp.Records {
		msgs = append(msgs, recordToMessage(rec))
	}
	return msgs, nil
}

// DeleteMessage removes every copy matching the message's exact fields.
func (s *Session) DeleteMessage(msg models.Message) error {
	_, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpDeleteMessage,
		Fields: map[string]string{
			"sender":    msg.Sender,
			"receiver":  msg.Receiver,
			"message":   msg.Content,
			"timestamp": msg.Timestamp.Format(wire.TimeLayout),
		},
	})
	return err
}

// DeleteMessages deletes each message in turn, stopping at the first
// transport error.
func (s *Session) DeleteMessages(msgs []models.Message) error {
	for _, msg := range msgs {
		if err := s.DeleteMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAccount removes the logged-in user's account and logs out.
func (s *Session) DeleteAccount() error {
	_, err := s.request(&wire.Envelope{
		Version: s.version,
		Op:      wire.OpDeleteAccount,
		Fields:  map[string]string{"username": s.CurrentUser()},
	})
	if err != nil {
		return err
	}
	s.setUser("")
	return nil
}

// Close stops the poller and closes the socket. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

// request sends one envelope and blocks until its response arrives. It is a
// strict request-then-wait cycle: the session mutex is held throughout, so
// no second request and no poller probe can touch the socket meanwhile. A
// push frame racing the response is handed to the push handler and the wait
// continues.
func (s *Session) request(env *wire.Envelope) (*wire.Envelope, error) {
	payload, err := wire.Encode(env)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, ErrClosed
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := wire.WriteFrame(s.conn, payload); err != nil {
		s.teardownLocked()
		return nil, fmt.Errorf("send %s: %w", env.Op, err)
	}

	deadline := time.Now().Add(s.timeout)
	for {
		s.conn.SetReadDeadline(deadline)
		data, err := wire.ReadFrame(s.reader)
		if err != nil {
			// A timeout here leaves the stream position unknown, so
			// the connection is reset rather than resynchronized.
			s.teardownLocked()
			return nil, fmt.Errorf("await %s: %w", env.Op, err)
		}

		op, err := wire.PeekOp(data)
		if err != nil {
			s.teardownLocked()
			return nil, err
		}
		if op == wire.OpDeliverNow {
			s.handlePush(data)
			continue
		}

		resp, err := wire.Decode(data, op == wire.OpSuccess && wire.ListShaped(env.Op))
		if err != nil {
			s.teardownLocked()
			return nil, err
		}
		if resp.Op == wire.OpFailure {
			return nil, &ServerError{Message: resp.Fields["message"]}
		}
		return resp, nil
	}
}

func (s *Session) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll takes the session mutex for a single non-destructive probe. Peek
// keeps any partially arrived bytes inside the buffered reader, so a quiet
// socket costs nothing and never desynchronizes the stream.
func (s *Session) poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}

	s.conn.SetReadDeadline(time.Now().Add(probeTimeout))
	if _, err := s.reader.Peek(1); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return // nothing pending
		}
		s.log.Debug().Err(err).Msg("connection lost")
		s.teardownLocked()
		return
	}

	// A frame header has started arriving; give the rest a full window.
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	data, err := wire.ReadFrame(s.reader)
	if err != nil {
		s.teardownLocked()
		return
	}

	op, err := wire.PeekOp(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("discarding malformed frame")
		return
	}
	if op != wire.OpDeliverNow {
		// Only pushes are expected outside a request cycle.
		s.log.Warn().Str("op", string(op)).Msg("discarding unexpected frame")
		return
	}
	s.handlePush(data)
}

func (s *Session) handlePush(data []byte) {
	env, err := wire.Decode(data, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("discarding malformed push")
		return
	}
	if s.onPush == nil {
		return
	}
	go s.onPush(recordToMessage(env.Fields))
}

// teardownLocked closes the socket, stops the poller and clears the login.
// Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.setUser("")
	s.shutdown.Do(func() { close(s.done) })
}

func recordToMessage(rec map[string]string) models.Message {
	ts, err := time.Parse(wire.TimeLayout, rec["timestamp"])
	if err != nil {
		ts = time.Time{}
	}
	return models.Message{
		Sender:    rec["sender"],
		Receiver:  rec["receiver"],
		Content:   rec["message"],
		Timestamp: ts,
	}
}
