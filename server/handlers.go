package server

import (
	"strconv"
	"time"

	"chatwire/metrics"
	"chatwire/models"
	"chatwire/wire"
)

func (s *Server) dispatch(session *Session, env *wire.Envelope) *wire.Envelope {
	switch env.Op {
	case wire.OpLogin:
		return s.handleLogin(session, env)
	case wire.OpLogout:
		return s.handleLogout(session, env)
	case wire.OpCreateAccount:
		return s.handleCreateAccount(env)
	case wire.OpDeleteAccount:
		return s.handleDeleteAccount(env)
	case wire.OpListAccounts:
		return s.handleListAccounts(env)
	case wire.OpSendMessage:
		return s.handleSendMessage(env)
	case wire.OpReadMessages:
		return s.handleReadMessages(env)
	case wire.OpDeleteMessage:
		return s.handleDeleteMessage(env)
	default:
		return failure(env.Version, "unknown operation")
	}
}

func ok(version byte, message string) *wire.Envelope {
	return &wire.Envelope{
		Version: version,
		Op:      wire.OpSuccess,
		Fields:  map[string]string{"message": message},
	}
}

func okRecords(version byte, records []map[string]string) *wire.Envelope {
	return &wire.Envelope{
		Version: version,
		Op:      wire.OpSuccess,
		Records: records,
	}
}

func failure(version byte, message string) *wire.Envelope {
	return &wire.Envelope{
		Version: version,
		Op:      wire.OpFailure,
		Fields:  map[string]string{"message": message},
	}
}

func (s *Server) handleLogin(session *Session, env *wire.Envelope) *wire.Envelope {
	username := env.Fields["username"]
	password := env.Fields["password"]
	if username == "" || password == "" {
		return failure(env.Version, "username and password required")
	}

	if err := s.store.Authenticate(username, password); err != nil {
		return failure(env.Version, err.Error())
	}

	s.bind(username, session)
	return ok(env.Version, "logged in as "+username)
}

func (s *Server) handleLogout(session *Session, env *wire.Envelope) *wire.Envelope {
	if s.boundUsername(session) == "" {
		return failure(env.Version, "not logged in")
	}
	s.unbind(session)
	return ok(env.Version, "logged out")
}

func (s *Server) handleCreateAccount(env *wire.Envelope) *wire.Envelope {
	username := env.Fields["username"]
	password := env.Fields["password"]
	if username == "" || password == "" {
		return failure(env.Version, "username and password required")
	}

	if err := s.store.CreateAccount(username, password); err != nil {
		return failure(env.Version, err.Error())
	}
	return ok(env.Version, "account created")
}

func (s *Server) handleDeleteAccount(env *wire.Envelope) *wire.Envelope {
	username := env.Fields["username"]
	if username == "" {
		return failure(env.Version, "username required")
	}

	if err := s.store.DeleteAccount(username); err != nil {
		return failure(env.Version, err.Error())
	}
	s.unbindUser(username)
	return ok(env.Version, "account deleted")
}

func (s *Server) handleListAccounts(env *wire.Envelope) *wire.Envelope {
	names := s.store.ListAccounts(env.Fields["search_string"])

	records := make([]map[string]string, 0, len(names))
	for _, name := range names {
		records = append(records, map[string]string{"username": name})
	}
	return okRecords(env.Version, records)
}

func (s *Server) handleSendMessage(env *wire.Envelope) *wire.Envelope {
	sender := env.Fields["sender"]
	receiver := env.Fields["receiver"]
	content := env.Fields["message"]

	switch {
	case content == "":
		return failure(env.Version, ErrEmptyContent.Error())
	case sender == receiver:
		return failure(env.Version, ErrSelfSend.Error())
	case !s.store.UserExists(sender):
		return failure(env.Version, "unknown sender")
	case !s.store.UserExists(receiver):
		return failure(env.Version, "unknown receiver")
	}

	msg := models.Message{
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}

	recipient, online := s.getOnline(receiver)
	if err := s.store.AddMessage(msg, online); err != nil {
		return failure(env.Version, err.Error())
	}
	metrics.MessagesSent.Inc()

	if online {
		// Out-of-band push onto the recipient's connection. A write
		// failure only means that connection is dying; delivery to the
		// sender's mailbox already happened.
		push := &wire.Envelope{
			Version: wire.VersionBinary,
			Op:      wire.OpDeliverNow,
			Fields: map[string]string{
				"sender":    msg.Sender,
				"receiver":  msg.Receiver,
				"message":   msg.Content,
				"timestamp": msg.Timestamp.Format(wire.TimeLayout),
			},
		}
		if err := recipient.write(push); err != nil {
			s.log.Warn().Err(err).Str("receiver", receiver).Msg("push failed")
		} else {
			metrics.MessagesPushed.Inc()
		}
	} else {
		metrics.MessagesQueued.Inc()
	}

	return ok(env.Version, "message sent")
}

func (s *Server) handleReadMessages(env *wire.Envelope) *wire.Envelope {
	username := env.Fields["username"]
	if username == "" {
		return failure(env.Version, "username required")
	}

	msgs, err := s.store.ReadMessages(username)
	if err != nil {
		return failure(env.Version, err.Error())
	}

	records := make([]map[string]string, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, map[string]string{
			"sender":    msg.Sender,
			"receiver":  msg.Receiver,
			"message":   msg.Content,
			"timestamp": msg.Timestamp.Format(wire.TimeLayout),
		})
	}
	return okRecords(env.Version, records)
}

// handleDeleteMessage removes every copy matching the request's exact
// (sender, receiver, message, timestamp) key. A request that matches
// nothing is a no-op, not an error.
func (s *Server) handleDeleteMessage(env *wire.Envelope) *wire.Envelope {
	removed := s.store.DeleteMatching(
		env.Fields["sender"],
		env.Fields["receiver"],
		env.Fields["message"],
		env.Fields["timestamp"],
	)
	return ok(env.Version, "deleted "+strconv.Itoa(removed)+" message copies")
}
