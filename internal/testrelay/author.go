package testrelay

import (
	"time"

	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/privmsg"
)

// Author produces signed events for tests.
type Author struct {
	*identity.Keys
}

// NewAuthor returns an author with a fresh random identity.
func NewAuthor() Author {
	keys, err := identity.GenerateKeys()
	if err != nil {
		panic(err)
	}
	return Author{Keys: keys}
}

// Note returns a signed kind-1 event.
func (a Author) Note(at time.Time, content string, tags ...model.Tag) model.Event {
	return a.sign(model.Event{
		CreatedAt: at.Unix(),
		Kind:      model.KindTextNote,
		Tags:      model.Tags(tags),
		Content:   content,
	})
}

// Contacts returns a signed kind-3 follow list.
func (a Author) Contacts(at time.Time, follows ...string) model.Event {
	tags := make(model.Tags, 0, len(follows))
	for _, pk := range follows {
		tags = append(tags, model.Tag{model.TagPubKey, pk})
	}
	return a.sign(model.Event{
		CreatedAt: at.Unix(),
		Kind:      model.KindContactList,
		Tags:      tags,
	})
}

// DM returns a signed kind-4 event sealed for recipient.
func (a Author) DM(at time.Time, recipient, plaintext string) model.Event {
	content, err := privmsg.Seal(a.Private(), recipient, plaintext)
	if err != nil {
		panic(err)
	}
	return a.sign(model.Event{
		CreatedAt: at.Unix(),
		Kind:      model.KindEncryptedDM,
		Tags:      model.Tags{{model.TagPubKey, recipient}},
		Content:   content,
	})
}

func (a Author) sign(ev model.Event) model.Event {
	if ev.Tags == nil {
		ev.Tags = model.Tags{}
	}
	if err := a.Sign(&ev); err != nil {
		panic(err)
	}
	return ev
}
