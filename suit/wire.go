package suit

// Wire-format integer keys. Numbering follows the shape of
// draft-ietf-suit-manifest-01, the draft original_source/src/parse.c was
// written against; this package does not aim for byte-exact conformance
// with later drafts, only for the structural/semantic contract in
// spec.md.

// Manifest envelope top-level keys.
const (
	envelopeKeyAuthWrapper uint64 = 2
	envelopeKeyManifest    uint64 = 3
)

// Manifest top-level keys.
const (
	manifestKeyVersion        uint64 = 1
	manifestKeySequenceNumber uint64 = 2
	manifestKeyCommon         uint64 = 3
	manifestKeyPayloadFetch   uint64 = 16
	manifestKeyInstall        uint64 = 20
	manifestKeyValidate       uint64 = 7
	manifestKeyLoad           uint64 = 8
	manifestKeyRun            uint64 = 9
)

// Common-block keys.
const (
	commonKeyComponents     uint64 = 2
	commonKeyCommonSequence uint64 = 4
)

// Command-sequence command identifiers. Commands not listed here always
// fail the sequence.
const (
	cmdCheckVendorID        uint64 = 1
	cmdCheckClassID         uint64 = 2
	cmdCheckImageMatch      uint64 = 3
	cmdCheckComponentOffset uint64 = 5
	cmdSetComponentIndex    uint64 = 12
	cmdTryEach              uint64 = 15
	cmdSetParameters        uint64 = 19
	cmdOverrideParameters   uint64 = 20
	cmdFetch                uint64 = 21
	cmdCopy                 uint64 = 22
	cmdRun                  uint64 = 23
)

// Parameter identifiers recognized inside an override_parameters /
// set_parameters argument map.
const (
	paramVendorID        uint64 = 1
	paramClassID         uint64 = 2
	paramImageDigest     uint64 = 3
	paramImageSize       uint64 = 14
	paramArchiveInfo     uint64 = 18
	paramURI             uint64 = 21
	paramSourceComponent uint64 = 22
)

// digestAlgSHA256 is the sole digest algorithm identifier the envelope
// codec supports for the signed manifest digest.
const digestAlgSHA256 uint64 = 1
