package verifier

import (
	"crypto/ed25519"
	"testing"
)

func TestNoOpWhenNoKeys(t *testing.T) {
	v := New(SchemeHMACSHA256, nil)
	if err := v.Verify("/img", "url=x", ""); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestHMACRoundTrip(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	v := New(SchemeHMACSHA256, []Key{key})
	sig, err := Sign(SchemeHMACSHA256, key, "/img", "url=https://x&width=100")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := v.Verify("/img", "url=https://x&width=100&s="+sig, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestHMACRejectsWrongKey(t *testing.T) {
	signing := Key{Secret: []byte("key-a")}
	verifying := Key{Secret: []byte("key-b")}
	v := New(SchemeHMACSHA256, []Key{verifying})
	sig, _ := Sign(SchemeHMACSHA256, signing, "/img", "url=x")
	if err := v.Verify("/img", "url=x", sig); err == nil {
		t.Fatal("expected verification to fail for mismatched key")
	}
}

func TestHMACAnyConfiguredKeyVerifies(t *testing.T) {
	k1 := Key{Secret: []byte("k1")}
	k2 := Key{Secret: []byte("k2")}
	v := New(SchemeHMACSHA256, []Key{k1, k2})
	sig, _ := Sign(SchemeHMACSHA256, k2, "/img", "url=x")
	if err := v.Verify("/img", "url=x", sig); err != nil {
		t.Fatalf("expected second configured key to verify, got %v", err)
	}
}

func TestQueryParamReorderingDoesNotAffectVerification(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	v := New(SchemeHMACSHA256, []Key{key})
	sig, _ := Sign(SchemeHMACSHA256, key, "/img", "a=1&b=2")
	if err := v.Verify("/img", "b=2&a=1", sig); err != nil {
		t.Fatalf("expected reordering to not affect verification, got %v", err)
	}
}

func TestChangingSParamDoesNotAffectVerification(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	v := New(SchemeHMACSHA256, []Key{key})
	sig, _ := Sign(SchemeHMACSHA256, key, "/img", "a=1")
	if err := v.Verify("/img", "a=1&s=anything-here", sig); err != nil {
		t.Fatalf("expected s param to be excluded from canonical message, got %v", err)
	}
}

func TestChangingNonSParamBreaksVerification(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	v := New(SchemeHMACSHA256, []Key{key})
	sig, _ := Sign(SchemeHMACSHA256, key, "/img", "a=1")
	if err := v.Verify("/img", "a=2", sig); err == nil {
		t.Fatal("expected changed query parameter to break verification")
	}
}

func TestFlippedSignatureBitFails(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	v := New(SchemeHMACSHA256, []Key{key})
	sig, _ := Sign(SchemeHMACSHA256, key, "/img", "a=1")
	flipped := []byte(sig)
	flipped[0] ^= 1
	if err := v.Verify("/img", "a=1", string(flipped)); err == nil {
		t.Fatal("expected flipped signature to fail")
	}
}

func TestNoQueryStillAppendsBareQuestionMark(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	sig, err := Sign(SchemeHMACSHA256, key, "/img", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v := New(SchemeHMACSHA256, []Key{key})
	if err := v.Verify("/img", "", sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestQueryBecomingEmptyAfterFilterStillAppendsBareQuestionMark(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	sigNoQuery, _ := Sign(SchemeHMACSHA256, key, "/img", "")
	v := New(SchemeHMACSHA256, []Key{key})
	// after dropping "s", the query is empty - must canonicalize the same
	// as an entirely absent query.
	if err := v.Verify("/img", "s=whatever", sigNoQuery); err != nil {
		t.Fatalf("expected query-only-s to canonicalize like no query, got %v", err)
	}
}

func TestPathWithoutLeadingSlashIsNormalized(t *testing.T) {
	key := Key{Secret: []byte("secret")}
	sig, _ := Sign(SchemeHMACSHA256, key, "/img", "a=1")
	v := New(SchemeHMACSHA256, []Key{key})
	if err := v.Verify("img", "a=1", sig); err != nil {
		t.Fatalf("expected missing leading slash to be normalized, got %v", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signKey := Key{Public: pub, Secret: []byte(priv)}
	v := New(SchemeEd25519, []Key{{Public: pub}})
	sig, err := Sign(SchemeEd25519, signKey, "/img", "url=x")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := v.Verify("/img", "url=x", sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestMissingSignature(t *testing.T) {
	v := New(SchemeHMACSHA256, []Key{{Secret: []byte("k")}})
	if err := v.Verify("/img", "a=1", ""); err != ErrMissingSignature {
		t.Fatalf("got %v, want ErrMissingSignature", err)
	}
}

func TestMalformedSignatureHex(t *testing.T) {
	v := New(SchemeHMACSHA256, []Key{{Secret: []byte("k")}})
	err := v.Verify("/img", "a=1", "not-hex!!")
	if err == nil {
		t.Fatal("expected malformed signature error")
	}
}
