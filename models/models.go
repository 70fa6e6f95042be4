package models

import "time"

// Account is a registered user together with its mailboxes. Messages holds
// the delivered history for both sides of a conversation; Unread holds
// messages waiting for the owner's next read.
type Account struct {
	Username     string
	PasswordHash string
	Messages     []Message
	Unread       []Message
}

// Message is a single direct message. Each side of a conversation owns its
// own copy, so deleting one copy leaves the other untouched.
type Message struct {
	Sender    string
	Receiver  string
	Content   string
	Timestamp time.Time
}
