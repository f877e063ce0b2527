package suit

import (
	"github.com/fxamacker/cbor/v2"
)

// manifestBuilder assembles a SUIT manifest wire form for tests without
// going through Wrap/ParseInit, mirroring a recipient's view of an
// encoder it does not otherwise implement.
type manifestBuilder struct {
	sequenceNumber uint64
	componentCount int
	commonSeq      []any
	perPhase       map[uint64][]any
}

func newManifestBuilder(componentCount int) *manifestBuilder {
	return &manifestBuilder{
		componentCount: componentCount,
		perPhase:       map[uint64][]any{},
	}
}

func (b *manifestBuilder) withCommonSequence(items ...any) *manifestBuilder {
	b.commonSeq = items
	return b
}

func (b *manifestBuilder) withSequenceNumber(n uint64) *manifestBuilder {
	b.sequenceNumber = n
	return b
}

func (b *manifestBuilder) withSequence(key uint64, items ...any) *manifestBuilder {
	b.perPhase[key] = items
	return b
}

func encodeSeq(t testingT, items []any) []byte {
	raw, err := cbor.Marshal(items)
	if err != nil {
		t.Fatalf("encode sequence: %v", err)
	}
	return raw
}

// testingT is the subset of *testing.T used by build helpers, so they
// can run outside a test function's direct scope if ever needed.
type testingT interface {
	Fatalf(format string, args ...any)
}

func (b *manifestBuilder) build(t testingT) []byte {
	componentDescs := make([]any, b.componentCount)
	for i := range componentDescs {
		componentDescs[i] = []any{} // descriptor content is never consumed
	}
	componentsBytes, err := cbor.Marshal(componentDescs)
	if err != nil {
		t.Fatalf("encode components array: %v", err)
	}

	common := map[uint64]any{
		commonKeyComponents: componentsBytes,
	}
	if b.commonSeq != nil {
		common[commonKeyCommonSequence] = encodeSeq(t, b.commonSeq)
	}
	commonBytes, err := cbor.Marshal(common)
	if err != nil {
		t.Fatalf("encode common block: %v", err)
	}

	top := map[uint64]any{
		manifestKeyVersion:        uint64(ManifestVersion),
		manifestKeySequenceNumber: b.sequenceNumber,
		manifestKeyCommon:         commonBytes,
	}
	for key, items := range b.perPhase {
		top[key] = encodeSeq(t, items)
	}

	manifestBytes, err := cbor.Marshal(top)
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	return manifestBytes
}

// overrideParams / setParams build an (command_id, argument) pair for an
// override_parameters / set_parameters directive.
func overrideParams(params map[uint64]any) []any {
	return []any{cmdOverrideParameters, params}
}

func setParams(params map[uint64]any) []any {
	return []any{cmdSetParameters, params}
}

func runDirective() []any {
	return []any{cmdRun, nil}
}

func setComponentIndex(idx uint64) []any {
	return []any{cmdSetComponentIndex, idx}
}

func tryEach(t testingT, candidates [][]any) []any {
	encoded := make([][]byte, len(candidates))
	for i, c := range candidates {
		encoded[i] = encodeSeq(t, c)
	}
	return []any{cmdTryEach, encoded}
}

func imageDigestParam(alg uint64, digest []byte) []any {
	return []any{alg, digest}
}

// flatten concatenates a list of (cmd, arg) pairs, built by the helpers
// above, into one alternating command-sequence item list.
func flatten(pairs ...[]any) []any {
	var items []any
	for _, p := range pairs {
		items = append(items, p...)
	}
	return items
}
