package privmsg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/askbot/internal/domain/identity"
)

func mustKeys(t *testing.T) *identity.Keys {
	t.Helper()
	k, err := identity.GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	alice, bob := mustKeys(t), mustKeys(t)

	Convey("Given two identities", t, func() {
		plaintexts := []string{
			"",
			"hi",
			"exactly sixteen!",
			"/GetNotes \"abc123\" \"2024-01-01\"",
			"ünïcödé ✓ 🚀",
			strings.Repeat("long message ", 500),
		}

		Convey("Then bob opens what alice sealed, for every plaintext", func() {
			for _, pt := range plaintexts {
				env, err := Seal(alice.Private(), bob.PublicKey(), pt)
				So(err, ShouldBeNil)
				So(env, ShouldContainSubstring, "?iv=")

				got, err := Open(bob.Private(), alice.PublicKey(), env)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, pt)
			}
		})

		Convey("Then each seal uses a fresh iv", func() {
			a, err := Seal(alice.Private(), bob.PublicKey(), "same")
			So(err, ShouldBeNil)
			b, err := Seal(alice.Private(), bob.PublicKey(), "same")
			So(err, ShouldBeNil)
			So(a, ShouldNotEqual, b)
		})

		Convey("Then a third party cannot open it", func() {
			eve := mustKeys(t)
			env, err := Seal(alice.Private(), bob.PublicKey(), "for bob only, long enough to span blocks")
			So(err, ShouldBeNil)
			got, err := Open(eve.Private(), alice.PublicKey(), env)
			So(err != nil || got != "for bob only, long enough to span blocks", ShouldBeTrue)
		})
	})
}

func TestSharedKeyConvention(t *testing.T) {
	alice, bob := mustKeys(t), mustKeys(t)

	Convey("Given the ECDH of two identities", t, func() {
		ab, err := sharedKey(alice.Private(), bob.PublicKey())
		So(err, ShouldBeNil)
		ba, err := sharedKey(bob.Private(), alice.PublicKey())
		So(err, ShouldBeNil)

		Convey("Then both sides derive the same 32-byte key", func() {
			So(len(ab), ShouldEqual, 32)
			So(bytes.Equal(ab, ba), ShouldBeTrue)
		})

		Convey("Then the key is the raw x-coordinate of the shared point", func() {
			pub, err := identity.ParsePublicKey(bob.PublicKey())
			So(err, ShouldBeNil)
			x, _ := btcec.S256().ScalarMult(pub.X(), pub.Y(), alice.Private().Serialize())
			want := make([]byte, 32)
			x.FillBytes(want)
			So(bytes.Equal(ab, want), ShouldBeTrue)
		})
	})
}

func TestOpenMalformed(t *testing.T) {
	alice, bob := mustKeys(t), mustKeys(t)
	good, err := Seal(alice.Private(), bob.PublicKey(), "payload")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ct, iv, _ := strings.Cut(good, "?iv=")

	Convey("Given malformed envelopes", t, func() {
		cases := map[string]string{
			"no separator":  ct,
			"short iv":      ct + "?iv=" + base64.StdEncoding.EncodeToString([]byte("short")),
			"bad iv base64": ct + "?iv=!!!",
			"bad ct base64": "***?iv=" + iv,
			"empty ct":      "?iv=" + iv,
			"partial block": base64.StdEncoding.EncodeToString([]byte("abc")) + "?iv=" + iv,
		}

		Convey("Then each is rejected as ErrMalformedEnvelope", func() {
			for _, env := range cases {
				_, err := Open(bob.Private(), alice.PublicKey(), env)
				So(errors.Is(err, ErrMalformedEnvelope), ShouldBeTrue)
			}
		})

		Convey("Then an invalid sender key is a decrypt failure", func() {
			_, err := Open(bob.Private(), "zz", good)
			So(errors.Is(err, ErrDecryptFailure), ShouldBeTrue)
		})
	})
}

func TestTamperIsNotAuthenticated(t *testing.T) {
	alice, bob := mustKeys(t), mustKeys(t)
	const pt = "attack at dawn, bring the big one"

	Convey("Given a sealed envelope", t, func() {
		env, err := Seal(alice.Private(), bob.PublicKey(), pt)
		So(err, ShouldBeNil)
		ctB64, ivB64, _ := strings.Cut(env, "?iv=")
		ct, _ := base64.StdEncoding.DecodeString(ctB64)
		iv, _ := base64.StdEncoding.DecodeString(ivB64)

		Convey("Then flipping any ciphertext byte never yields the original", func() {
			for i := range ct {
				mut := append([]byte(nil), ct...)
				mut[i] ^= 0x01
				got, err := Open(bob.Private(), alice.PublicKey(),
					base64.StdEncoding.EncodeToString(mut)+"?iv="+ivB64)
				So(err == nil && got == pt, ShouldBeFalse)
			}
		})

		Convey("Then flipping any iv byte never yields the original", func() {
			for i := range iv {
				mut := append([]byte(nil), iv...)
				mut[i] ^= 0x80
				got, err := Open(bob.Private(), alice.PublicKey(),
					ctB64+"?iv="+base64.StdEncoding.EncodeToString(mut))
				// CBC: an iv flip garbles only the first block and keeps padding
				// intact, so this usually "succeeds" with wrong text.
				So(err == nil && got == pt, ShouldBeFalse)
			}
		})
	})
}

func TestSealDeterministicWithFixedIV(t *testing.T) {
	alice, bob := mustKeys(t), mustKeys(t)

	Convey("Given a fixed iv source", t, func() {
		saved := randReader
		randReader = bytes.NewReader(bytes.Repeat([]byte{7}, 32))
		defer func() { randReader = saved }()

		env, err := Seal(alice.Private(), bob.PublicKey(), "x")
		So(err, ShouldBeNil)

		Convey("Then the envelope carries exactly that iv", func() {
			_, ivB64, _ := strings.Cut(env, "?iv=")
			So(ivB64, ShouldEqual, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 16)))
		})
	})
}
