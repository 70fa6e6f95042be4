package server

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/models"
	"chatwire/wire"
)

func testMessage(sender, receiver, content string, ts time.Time) models.Message {
	return models.Message{
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: ts,
	}
}

func TestStoreCreateAccountUnique(t *testing.T) {
	st := NewStore()

	require.NoError(t, st.CreateAccount("alice", "h1"))
	assert.ErrorIs(t, st.CreateAccount("alice", "h2"), ErrUserExists)

	// The failed create must not have touched the stored credentials.
	require.NoError(t, st.Authenticate("alice", "h1"))
	assert.ErrorIs(t, st.Authenticate("alice", "h2"), ErrBadPassword)
	assert.ErrorIs(t, st.Authenticate("nobody", "h1"), ErrUnknownUser)
}

func TestStoreDeleteAccount(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h1"))

	require.NoError(t, st.DeleteAccount("alice"))
	assert.False(t, st.UserExists("alice"))
	assert.ErrorIs(t, st.DeleteAccount("alice"), ErrUnknownUser)
}

func TestStoreListAccountsPrefix(t *testing.T) {
	st := NewStore()
	for _, name := range []string{"alice", "alfred", "bob"} {
		require.NoError(t, st.CreateAccount(name, "h"))
	}

	assert.Equal(t, []string{"alfred", "alice"}, st.ListAccounts("al"))
	assert.Equal(t, []string{"alice"}, st.ListAccounts("ali"))
	assert.Empty(t, st.ListAccounts("z"))

	all := st.ListAccounts("")
	assert.True(t, sort.StringsAreSorted(all))
	assert.Len(t, all, 3)
}

func TestStoreOfflineMessageQueuesUnread(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	msg := testMessage("alice", "bob", "hi", time.Now().UTC())
	require.NoError(t, st.AddMessage(msg, false))

	bob, ok := st.Snapshot("bob")
	require.True(t, ok)
	assert.Empty(t, bob.Messages)
	require.Len(t, bob.Unread, 1)
	assert.Equal(t, "hi", bob.Unread[0].Content)

	alice, ok := st.Snapshot("alice")
	require.True(t, ok)
	require.Len(t, alice.Messages, 1)
}

func TestStoreOnlineMessageDeliversDirectly(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "hello", time.Now().UTC()), true))

	bob, _ := st.Snapshot("bob")
	assert.Len(t, bob.Messages, 1)
	assert.Empty(t, bob.Unread)
}

func TestStoreReadMessagesClearsUnreadAndSorts(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "second", base.Add(time.Minute)), false))
	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "first", base), false))

	msgs, err := st.ReadMessages("bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}

	bob, _ := st.Snapshot("bob")
	assert.Empty(t, bob.Unread)
	assert.Len(t, bob.Messages, 2)

	_, err = st.ReadMessages("nobody")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestStoreDeleteMatchingRemovesBothCopies(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "hi", ts), true))

	removed := st.DeleteMatching("alice", "bob", "hi", ts.Format(wire.TimeLayout))
	assert.Equal(t, 2, removed)

	alice, _ := st.Snapshot("alice")
	bob, _ := st.Snapshot("bob")
	assert.Empty(t, alice.Messages)
	assert.Empty(t, bob.Messages)
}

func TestStoreDeleteMatchingIsIdempotent(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	ts := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "keep me", ts), false))

	// No exact field match: nothing happens, both mailboxes unchanged.
	removed := st.DeleteMatching("alice", "bob", "different content", ts.Format(wire.TimeLayout))
	assert.Zero(t, removed)

	alice, _ := st.Snapshot("alice")
	bob, _ := st.Snapshot("bob")
	assert.Len(t, alice.Messages, 1)
	assert.Len(t, bob.Unread, 1)
}

func TestStoreDeleteMatchingRemovesUnreadCopy(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.CreateAccount("alice", "h"))
	require.NoError(t, st.CreateAccount("bob", "h"))

	ts := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, st.AddMessage(testMessage("alice", "bob", "gone", ts), false))

	removed := st.DeleteMatching("alice", "bob", "gone", ts.Format(wire.TimeLayout))
	assert.Equal(t, 2, removed)

	bob, _ := st.Snapshot("bob")
	assert.Empty(t, bob.Unread)
}
