// Package identity holds the bot keypair and the event id, signing and
// verification rules of the relay protocol.
package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/okian/askbot/internal/domain/model"
)

const (
	keyLen = 32
	sigLen = 64

	uriPrefix = "nostr:"
)

// Keys is the process identity. It is immutable after construction.
type Keys struct {
	priv   *btcec.PrivateKey
	public string
}

// NewKeys builds Keys from a private key in hex or nsec form.
func NewKeys(private string) (*Keys, error) {
	raw, err := decodePrivate(private)
	if err != nil {
		return nil, err
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &Keys{priv: priv, public: hex.EncodeToString(schnorr.SerializePubKey(pub))}, nil
}

// GenerateKeys returns a fresh random identity.
func GenerateKeys() (*Keys, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Keys{priv: priv, public: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))}, nil
}

// PublicKey returns the 64-char hex x-only public key.
func (k *Keys) PublicKey() string { return k.public }

// Private returns the secret scalar for ECDH.
func (k *Keys) Private() *btcec.PrivateKey { return k.priv }

// Sign fills PubKey, ID and Sig on ev. Any previous values are overwritten.
func (k *Keys) Sign(ev *model.Event) error {
	ev.PubKey = k.public
	id := ComputeID(*ev)
	idBytes, _ := hex.DecodeString(id)
	sig, err := schnorr.Sign(k.priv, idBytes)
	if err != nil {
		return fmt.Errorf("schnorr sign: %w", err)
	}
	ev.ID = id
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// toWire converts ev to the go-nostr event whose serialization defines ids.
func toWire(ev model.Event) nostr.Event {
	tags := make(nostr.Tags, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, nostr.Tag(t))
	}
	return nostr.Event{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: nostr.Timestamp(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
}

// ComputeID returns hex(sha256) of the canonical serialization
// [0, pubkey, created_at, kind, tags, content]. Strings are escaped the way
// relays do it, so U+2028 and U+2029 stay raw.
func ComputeID(ev model.Event) string {
	w := toWire(ev)
	return w.GetID()
}

// Verify checks that ev.ID matches its content and that ev.Sig is a valid
// schnorr signature by ev.PubKey over it.
func Verify(ev model.Event) error {
	if len(ev.Sig) != 2*sigLen || len(ev.PubKey) != 2*keyLen {
		return fmt.Errorf("%w: bad lengths", ErrInvalidSignature)
	}
	w := toWire(ev)
	if w.GetID() != ev.ID {
		return fmt.Errorf("%w: id mismatch", ErrInvalidSignature)
	}
	ok, err := w.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// Verifier adapts Verify to an interface value.
type Verifier struct{}

// Verify implements the classifier's verification capability.
func (Verifier) Verify(ev model.Event) error { return Verify(ev) }

// ParsePublicKey lifts a 64-char hex x-only key to a curve point (even Y).
func ParsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != keyLen {
		return nil, fmt.Errorf("%w: public key must be %d hex bytes", ErrInvalidKey, keyLen)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// DecodePublicKey normalizes a user-supplied identifier to lowercase hex.
// Accepted forms are raw hex, npub1… and nostr:npub1…. Anything else yields
// ErrInvalidIdentifier.
func DecodePublicKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, uriPrefix)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	if strings.HasPrefix(s, "npub") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
		}
		pk, ok := value.(string)
		if prefix != "npub" || !ok {
			return "", fmt.Errorf("%w: not an npub", ErrInvalidIdentifier)
		}
		return pk, nil
	}

	s = strings.ToLower(s)
	if len(s) > 2*keyLen {
		return "", fmt.Errorf("%w: too long", ErrInvalidIdentifier)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: not hex", ErrInvalidIdentifier)
	}
	return s, nil
}

func decodePrivate(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "nsec") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		h, ok := value.(string)
		if prefix != "nsec" || !ok {
			return nil, fmt.Errorf("%w: not an nsec", ErrInvalidKey)
		}
		s = h
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != keyLen {
		return nil, fmt.Errorf("%w: private key must be %d hex bytes", ErrInvalidKey, keyLen)
	}
	return raw, nil
}
