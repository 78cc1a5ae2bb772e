package model

// Exchange is an inbound event that passed classification, carrying its
// sanitized (and, for direct messages, decrypted) content. It is either a
// PublicNote or a DirectMessage.
type Exchange interface {
	Source() Event
	Text() string
	// Private reports whether the reply must be encrypted.
	Private() bool
}

// PublicNote is a relevant kind-1 event. Replies are public notes.
type PublicNote struct {
	Event   Event
	Content string
}

func (n PublicNote) Source() Event { return n.Event }
func (n PublicNote) Text() string  { return n.Content }
func (n PublicNote) Private() bool { return false }

// DirectMessage is a relevant kind-4 event whose content was opened.
type DirectMessage struct {
	Event   Event
	Content string
}

func (m DirectMessage) Source() Event { return m.Event }
func (m DirectMessage) Text() string  { return m.Content }
func (m DirectMessage) Private() bool { return true }
