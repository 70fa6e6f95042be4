package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatwire/metrics"
	"chatwire/wire"
)

type Server struct {
	store    *Store
	config   *ServerConfig
	log      zerolog.Logger
	mu       sync.RWMutex
	online   map[string]*Session
	listener net.Listener
	closed   atomic.Bool
	conns    atomic.Int64
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Session is one accepted connection. Username is set once a login binds an
// account to it and cleared on logout or disconnect.
type Session struct {
	Username string
	Conn     net.Conn

	// wmu serializes whole frames on Conn: a push aimed at this session
	// must never interleave bytes with an in-flight response.
	wmu sync.Mutex

	writeTimeout time.Duration
}

func New(store *Store, config *ServerConfig, log zerolog.Logger) *Server {
	return &Server{
		store:  store,
		config: config,
		log:    log,
		online: make(map[string]*Session),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections until the listener is closed, one goroutine per
// connection.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info().Stringer("addr", listener.Addr()).Msg("server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConnection(conn)
	}
}

// Addr returns the listen address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	log := s.log.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	log.Info().Msg("client connected")

	metrics.ConnectionsAccepted.Inc()
	s.conns.Add(1)
	defer func() {
		metrics.ConnectionsClosed.Inc()
		s.conns.Add(-1)
	}()

	session := &Session{Conn: conn, writeTimeout: s.config.WriteTimeout}
	defer s.unbind(session)

	frames := wire.NewFrameReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		payload, err := frames.Next()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle or stalled mid-frame; the frame reader keeps any
				// partial progress, so waiting again is safe.
				continue
			}
			switch {
			case errors.Is(err, wire.ErrConnectionClosed):
				log.Info().Msg("client disconnected")
			case errors.Is(err, wire.ErrProtocol):
				log.Warn().Err(err).Msg("dropping connection: bad frame header")
			case strings.Contains(err.Error(), "use of closed network connection"):
			default:
				log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		metrics.FramesRead.Inc()

		resp, err := s.handleFrame(session, payload, log)
		if err != nil {
			metrics.DecodeFailures.Inc()
			log.Warn().Err(err).Msg("dropping connection: malformed envelope")
			return
		}
		if err := session.write(resp); err != nil {
			log.Warn().Err(err).Msg("response write failed")
			return
		}
	}
}

// handleFrame decodes one request and dispatches it. A decode error is
// fatal to the connection; anything a handler panics with becomes a generic
// FAILURE and the connection stays up.
func (s *Server) handleFrame(session *Session, payload []byte, log zerolog.Logger) (resp *wire.Envelope, err error) {
	version := wire.VersionBinary
	if len(payload) > 0 && payload[0] == wire.VersionJSON {
		version = wire.VersionJSON
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("handler panicked")
			resp, err = failure(version, "internal error"), nil
		}
	}()

	env, decodeErr := wire.Decode(payload, false)
	if decodeErr != nil {
		return nil, decodeErr
	}

	log.Debug().Str("op", string(env.Op)).Msg("request")
	return s.dispatch(session, env), nil
}

// write sends one envelope as a single frame, holding the session write
// mutex for the whole frame.
func (sess *Session) write(env *wire.Envelope) error {
	payload, err := wire.Encode(env)
	if err != nil {
		return err
	}

	sess.wmu.Lock()
	defer sess.wmu.Unlock()

	sess.Conn.SetWriteDeadline(time.Now().Add(sess.writeTimeout))
	if err := wire.WriteFrame(sess.Conn, payload); err != nil {
		return err
	}
	metrics.FramesWritten.Inc()
	return nil
}

func (s *Server) bind(username string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Username = username
	s.online[username] = session
	metrics.OnlineUsers.Set(float64(len(s.online)))
}

// unbind removes the session's account from the online set, if this session
// is still the registered connection for it.
func (s *Server) unbind(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.Username == "" {
		return
	}
	if current, ok := s.online[session.Username]; ok && current == session {
		delete(s.online, session.Username)
	}
	session.Username = ""
	metrics.OnlineUsers.Set(float64(len(s.online)))
}

func (s *Server) unbindUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.online[username]; ok {
		sess.Username = ""
		delete(s.online, username)
	}
	metrics.OnlineUsers.Set(float64(len(s.online)))
}

func (s *Server) getOnline(username string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.online[username]
	return session, ok
}

// boundUsername reads the session's login under the server mutex; another
// connection's account deletion may clear it concurrently.
func (s *Server) boundUsername(session *Session) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return session.Username
}

// Stats reports active connections and online users for the admin surface.
func (s *Server) Stats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for username := range s.online {
		users = append(users, username)
	}
	return "connections=" + strconv.FormatInt(s.conns.Load(), 10) +
		",users=" + strings.Join(users, ";")
}

// Shutdown stops accepting and closes every open connection.
func (s *Server) Shutdown() {
	s.closed.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	sessions := make([]*Session, 0, len(s.online))
	for _, sess := range s.online {
		sessions = append(sessions, sess)
	}
	s.online = make(map[string]*Session)
	metrics.OnlineUsers.Set(0)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Conn.Close()
	}
	s.log.Info().Msg("server stopped")
}
