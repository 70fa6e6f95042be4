package server

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"chatwire/models"
	"chatwire/wire"
)

// Store errors map one-to-one onto FAILURE responses; handlers forward
// their text to the client unchanged.
var (
	ErrUserExists   = errors.New("username already taken")
	ErrUnknownUser  = errors.New("unknown user")
	ErrBadPassword  = errors.New("invalid password")
	ErrEmptyContent = errors.New("message content required")
	ErrSelfSend     = errors.New("cannot send a message to yourself")
)

// Store is the in-memory account directory and mailbox state. Connection
// goroutines are the only writers and every mutation happens under one
// mutex, keeping the single-writer discipline of the protocol.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewStore() *Store {
	return &Store{accounts: make(map[string]*models.Account)}
}

func (st *Store) CreateAccount(username, passwordHash string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.accounts[username]; ok {
		return ErrUserExists
	}
	st.accounts[username] = &models.Account{
		Username:     username,
		PasswordHash: passwordHash,
	}
	return nil
}

func (st *Store) Authenticate(username, passwordHash string) error {
	st.mu.RLock()
	defer st.mu.RUnlock()

	acc, ok := st.accounts[username]
	if !ok {
		return ErrUnknownUser
	}
	if acc.PasswordHash != passwordHash {
		return ErrBadPassword
	}
	return nil
}

func (st *Store) DeleteAccount(username string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.accounts[username]; !ok {
		return ErrUnknownUser
	}
	delete(st.accounts, username)
	return nil
}

func (st *Store) UserExists(username string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.accounts[username]
	return ok
}

// ListAccounts returns every username with the given prefix, sorted. An
// empty prefix matches everyone.
func (st *Store) ListAccounts(prefix string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var names []string
	for name := range st.accounts {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AddMessage files a copy of msg in the sender's history and in the
// receiver's history or unread queue depending on receiverOnline.
func (st *Store) AddMessage(msg models.Message, receiverOnline bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sender, ok := st.accounts[msg.Sender]
	if !ok {
		return ErrUnknownUser
	}
	receiver, ok := st.accounts[msg.Receiver]
	if !ok {
		return ErrUnknownUser
	}

	sender.Messages = append(sender.Messages, msg)
	if receiverOnline {
		receiver.Messages = append(receiver.Messages, msg)
	} else {
		receiver.Unread = append(receiver.Unread, msg)
	}
	return nil
}

// ReadMessages moves the user's unread queue into the delivered history and
// returns the whole history ordered by timestamp. The sort is stable so
// messages with equal timestamps keep a consistent order within one read.
func (st *Store) ReadMessages(username string) ([]models.Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	acc, ok := st.accounts[username]
	if !ok {
		return nil, ErrUnknownUser
	}

	acc.Messages = append(acc.Messages, acc.Unread...)
	acc.Unread = nil
	sort.SliceStable(acc.Messages, func(i, j int) bool {
		return acc.Messages[i].Timestamp.Before(acc.Messages[j].Timestamp)
	})

	out := make([]models.Message, len(acc.Messages))
	copy(out, acc.Messages)
	return out, nil
}

// DeleteMatching removes every message matching (sender, receiver, content,
// timestamp) from both parties, unread copies included. The timestamp is
// compared in its wire form, the same key a delete request carries. Missing
// matches are not an error; the count of removed copies is returned.
func (st *Store) DeleteMatching(sender, receiver, content, timestamp string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	match := func(m models.Message) bool {
		return m.Sender == sender &&
			m.Receiver == receiver &&
			m.Content == content &&
			m.Timestamp.Format(wire.TimeLayout) == timestamp
	}

	removed := 0
	if acc, ok := st.accounts[sender]; ok {
		acc.Messages, removed = removeMatching(acc.Messages, match, removed)
	}
	if acc, ok := st.accounts[receiver]; ok {
		acc.Messages, removed = removeMatching(acc.Messages, match, removed)
		acc.Unread, removed = removeMatching(acc.Unread, match, removed)
	}
	return removed
}

func removeMatching(msgs []models.Message, match func(models.Message) bool, removed int) ([]models.Message, int) {
	kept := msgs[:0]
	for _, m := range msgs {
		if match(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	return kept, removed
}

// Snapshot returns a copy of an account for inspection.
func (st *Store) Snapshot(username string) (models.Account, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	acc, ok := st.accounts[username]
	if !ok {
		return models.Account{}, false
	}
	out := *acc
	out.Messages = append([]models.Message(nil), acc.Messages...)
	out.Unread = append([]models.Message(nil), acc.Unread...)
	return out, true
}
