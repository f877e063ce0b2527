package suit

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// wireEnvelope is the outer CBOR map: {auth_wrapper: bstr, manifest: bstr}.
type wireEnvelope struct {
	AuthWrapper []byte `cbor:"2,keyasint"`
	Manifest    []byte `cbor:"3,keyasint"`
}

// signedDigest is the COSE Sign1 payload: [digest_alg, digest].
type signedDigest struct {
	_           struct{} `cbor:",toarray"`
	AlgorithmID uint64
	Digest      []byte
}

var encMode = mustCanonicalEncMode()

func mustCanonicalEncMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// Unwrap verifies the COSE Sign1 authentication wrapper of a SUIT
// envelope against pub, checks that the signed digest matches the
// SHA-256 of the enclosed manifest bytes, and returns those manifest
// bytes. Any failure - malformed CBOR, a signature that doesn't verify,
// or a digest mismatch - returns ErrRejected; the returned slice is only
// valid on success.
func Unwrap(pub *ecdsa.PublicKey, envelope []byte) ([]byte, error) {
	var env wireEnvelope
	if err := cbor.Unmarshal(envelope, &env); err != nil {
		return nil, rejectf("envelope map: %v", err)
	}
	if env.AuthWrapper == nil || env.Manifest == nil {
		return nil, rejectf("envelope missing auth-wrapper or manifest entry")
	}

	var wrapped []cbor.RawMessage
	if err := cbor.Unmarshal(env.AuthWrapper, &wrapped); err != nil {
		return nil, rejectf("auth-wrapper array: %v", err)
	}
	if len(wrapped) != 1 {
		return nil, rejectf("auth-wrapper must contain exactly one signed item, got %d", len(wrapped))
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, rejectf("verifier init: %v", err)
	}

	var signed cose.Sign1Message
	if err := signed.UnmarshalCBOR(wrapped[0]); err != nil {
		return nil, rejectf("COSE_Sign1 decode: %v", err)
	}
	if err := signed.Verify(verifier); err != nil {
		return nil, rejectf("signature verification: %v", err)
	}

	var payload signedDigest
	if err := cbor.Unmarshal(signed.Payload, &payload); err != nil {
		return nil, rejectf("signed digest payload: %v", err)
	}
	if payload.AlgorithmID != digestAlgSHA256 {
		return nil, rejectf("unsupported digest algorithm %d", payload.AlgorithmID)
	}

	actual := sha256.Sum256(env.Manifest)
	if subtle.ConstantTimeCompare(actual[:], payload.Digest) != 1 {
		return nil, rejectf("manifest digest mismatch")
	}

	return env.Manifest, nil
}

// Wrap builds a SUIT envelope around manifest, signing a SHA-256 digest
// of it with priv under COSE Sign1 / ES256, and returns the serialized
// envelope bytes.
func Wrap(priv *ecdsa.PrivateKey, manifest []byte) ([]byte, error) {
	digest := sha256.Sum256(manifest)

	payload := signedDigest{AlgorithmID: digestAlgSHA256, Digest: digest[:]}
	payloadBytes, err := encMode.Marshal(payload)
	if err != nil {
		return nil, rejectf("signed digest payload encode: %v", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, priv)
	if err != nil {
		return nil, rejectf("signer init: %v", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payloadBytes

	if err := msg.Sign(rand.Reader, signer); err != nil {
		return nil, rejectf("sign: %v", err)
	}

	signedBytes, err := msg.MarshalCBOR()
	if err != nil {
		return nil, rejectf("COSE_Sign1 encode: %v", err)
	}

	authWrapper, err := encMode.Marshal([]cbor.RawMessage{signedBytes})
	if err != nil {
		return nil, rejectf("auth-wrapper encode: %v", err)
	}

	env, err := encMode.Marshal(wireEnvelope{AuthWrapper: authWrapper, Manifest: manifest})
	if err != nil {
		return nil, rejectf("envelope encode: %v", err)
	}

	return env, nil
}
