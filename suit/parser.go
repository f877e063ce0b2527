package suit

import (
	"github.com/fxamacker/cbor/v2"
)

/*
 * All string/byte fields populated below are copies decoded out of the
 * manifest passed to ParseInit; none of them aliases that buffer, so the
 * returned Context does not depend on it. This parser does not
 * support soft failure: any error rejects the whole manifest, and the
 * caller must discard a Context returned alongside a non-nil error.
 */

// ParseInit decodes a SUIT manifest and returns a populated Context, or
// ErrRejected if the manifest is structurally or semantically invalid.
func ParseInit(manifest []byte) (*Context, error) {
	var top map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(manifest, &top); err != nil {
		return nil, rejectf("top-level manifest map: %v", err)
	}

	known := map[uint64]bool{
		manifestKeyVersion:        true,
		manifestKeySequenceNumber: true,
		manifestKeyCommon:         true,
		manifestKeyPayloadFetch:   true,
		manifestKeyInstall:        true,
		manifestKeyValidate:       true,
		manifestKeyLoad:           true,
		manifestKeyRun:            true,
	}
	for key := range top {
		if !known[key] {
			return nil, rejectf("unknown top-level manifest key %d", key)
		}
	}

	ctx := &Context{}

	if raw, ok := top[manifestKeyVersion]; ok {
		var version uint64
		if err := cbor.Unmarshal(raw, &version); err != nil {
			return nil, rejectf("manifest-version: %v", err)
		}
		if version != ManifestVersion {
			return nil, rejectf("unsupported manifest version %d", version)
		}
		ctx.version = version
	} else {
		return nil, rejectf("missing manifest-version")
	}

	if raw, ok := top[manifestKeySequenceNumber]; ok {
		if err := cbor.Unmarshal(raw, &ctx.sequenceNumber); err != nil {
			return nil, rejectf("sequence-number: %v", err)
		}
	}

	// The common block must be parsed before any command sequence, since
	// it establishes component_count, which set_component_index validates
	// against (source_component indices are stored without a range
	// check). This fixes a canonical
	// processing order independent of the encounter order of an
	// unordered Go map decode.
	if raw, ok := top[manifestKeyCommon]; ok {
		var commonBytes []byte
		if err := cbor.Unmarshal(raw, &commonBytes); err != nil {
			return nil, rejectf("common: %v", err)
		}
		if err := parseCommon(ctx, commonBytes); err != nil {
			return nil, err
		}
	}

	for _, key := range []uint64{manifestKeyPayloadFetch, manifestKeyInstall, manifestKeyValidate, manifestKeyLoad, manifestKeyRun} {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var seqBytes []byte
		if err := cbor.Unmarshal(raw, &seqBytes); err != nil {
			return nil, rejectf("command sequence %d: %v", key, err)
		}
		if _, err := evalSequence(ctx, ctx.components[:], 0, seqBytes); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}

func parseCommon(ctx *Context, common []byte) error {
	var fields map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(common, &fields); err != nil {
		return rejectf("common block map: %v", err)
	}

	// components: only its cardinality is consumed, the element
	// descriptors themselves are discarded.
	if raw, ok := fields[commonKeyComponents]; ok {
		var componentsBytes []byte
		if err := cbor.Unmarshal(raw, &componentsBytes); err != nil {
			return rejectf("common-components: %v", err)
		}
		var elems []cbor.RawMessage
		if err := cbor.Unmarshal(componentsBytes, &elems); err != nil {
			return rejectf("common-components array: %v", err)
		}
		if len(elems) > MaxComponents {
			return rejectf("component count %d exceeds MaxComponents %d", len(elems), MaxComponents)
		}
		ctx.componentCount = len(elems)
	}

	// Unknown common-block keys are tolerated for forward compatibility;
	// only common-sequence is otherwise recognized.
	if raw, ok := fields[commonKeyCommonSequence]; ok {
		var seqBytes []byte
		if err := cbor.Unmarshal(raw, &seqBytes); err != nil {
			return rejectf("common-sequence: %v", err)
		}
		if _, err := evalSequence(ctx, ctx.components[:], 0, seqBytes); err != nil {
			return err
		}
	}

	return nil
}

// evalSequence interprets a command sequence against components,
// starting at the given current-component index. It returns the index
// the sequence left current at; current callers discard it. try_each
// re-starts each candidate from the index active when try_each was
// encountered, and that index stays current after try_each returns.
func evalSequence(ctx *Context, components []Component, idx int, seq []byte) (int, error) {
	var items []cbor.RawMessage
	if err := cbor.Unmarshal(seq, &items); err != nil {
		return idx, rejectf("command sequence array: %v", err)
	}
	if len(items)%2 != 0 {
		return idx, rejectf("command sequence has odd element count %d", len(items))
	}

	for i := 0; i < len(items); i += 2 {
		var cmd uint64
		if err := cbor.Unmarshal(items[i], &cmd); err != nil {
			return idx, rejectf("command id: %v", err)
		}
		arg := items[i+1]

		switch cmd {
		case cmdSetComponentIndex:
			var newIdx uint64
			if err := cbor.Unmarshal(arg, &newIdx); err != nil {
				return idx, rejectf("set_component_index argument: %v", err)
			}
			if newIdx >= uint64(ctx.componentCount) {
				return idx, rejectf("set_component_index %d out of range (component_count=%d)", newIdx, ctx.componentCount)
			}
			idx = int(newIdx)

		case cmdOverrideParameters:
			if err := applyParameters(components, idx, arg, true); err != nil {
				return idx, err
			}

		case cmdSetParameters:
			if err := applyParameters(components, idx, arg, false); err != nil {
				return idx, err
			}

		case cmdRun:
			components[idx].run = true

		case cmdTryEach:
			var candidates []cbor.RawMessage
			if err := cbor.Unmarshal(arg, &candidates); err != nil {
				return idx, rejectf("try_each argument: %v", err)
			}
			if err := evalTryEach(ctx, components, idx, candidates); err != nil {
				return idx, err
			}

		case cmdCheckComponentOffset, cmdCheckVendorID, cmdCheckClassID, cmdCheckImageMatch, cmdFetch, cmdCopy:
			// Conditions and no-op directives: recorded implicitly by
			// the presence of the relevant parameter fields. Argument
			// is consumed by the unmarshal above and otherwise ignored.

		default:
			return idx, rejectf("unsupported command %d", cmd)
		}
	}

	return idx, nil
}

// evalTryEach evaluates candidate sequences in order, each starting from
// idx against a snapshot of component state, restoring on failure. The
// first candidate that evaluates without failure wins; if every
// candidate fails, the whole evaluation fails.
//
// The reference C implementation mutates components in place across
// failed candidates (no rollback); spec.md documents the snapshot/
// restore behavior implemented here as the intended semantics.
func evalTryEach(ctx *Context, components []Component, idx int, candidates []cbor.RawMessage) error {
	snapshot := make([]Component, len(components))

	for _, raw := range candidates {
		var seqBytes []byte
		if err := cbor.Unmarshal(raw, &seqBytes); err != nil {
			return rejectf("try_each candidate: %v", err)
		}

		copy(snapshot, components)
		if _, err := evalSequence(ctx, components, idx, seqBytes); err == nil {
			return nil
		}
		copy(components, snapshot)
	}

	return rejectf("try_each: every candidate failed")
}

func applyParameters(components []Component, idx int, argMap cbor.RawMessage, override bool) error {
	var params map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(argMap, &params); err != nil {
		return rejectf("parameter map: %v", err)
	}

	c := &components[idx]

	for key, raw := range params {
		switch key {
		case paramVendorID:
			if override || c.vendorID == nil {
				var v []byte
				if err := cbor.Unmarshal(raw, &v); err != nil {
					return rejectf("vendor_id: %v", err)
				}
				c.vendorID = v
			}

		case paramClassID:
			if override || c.classID == nil {
				var v []byte
				if err := cbor.Unmarshal(raw, &v); err != nil {
					return rejectf("class_id: %v", err)
				}
				c.classID = v
			}

		case paramURI:
			if override || !c.hasURI {
				var v string
				if err := cbor.Unmarshal(raw, &v); err != nil {
					return rejectf("uri: %v", err)
				}
				c.uri = v
				c.hasURI = true
			}

		case paramImageDigest:
			var pair []cbor.RawMessage
			if err := cbor.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
				return rejectf("image_digest: malformed [alg, digest] pair")
			}
			if override || c.digest == nil {
				var alg uint64
				if err := cbor.Unmarshal(pair[0], &alg); err != nil {
					return rejectf("image_digest algorithm: %v", err)
				}
				var digest []byte
				if err := cbor.Unmarshal(pair[1], &digest); err != nil {
					return rejectf("image_digest bytes: %v", err)
				}
				c.digestAlg = DigestAlgorithm(alg)
				c.digest = digest
			}

		case paramImageSize:
			if override || c.size == 0 {
				var v uint64
				if err := cbor.Unmarshal(raw, &v); err != nil {
					return rejectf("image_size: %v", err)
				}
				c.size = v
			}

		case paramArchiveInfo:
			if override || c.archiveAlg == ArchiveAlgorithmUnset {
				var v uint64
				if err := cbor.Unmarshal(raw, &v); err != nil {
					return rejectf("archive_info: %v", err)
				}
				c.archiveAlg = ArchiveAlgorithm(v)
			}

		case paramSourceComponent:
			var srcIdx uint64
			if err := cbor.Unmarshal(raw, &srcIdx); err != nil {
				return rejectf("source_component: %v", err)
			}
			if override || !c.hasSource {
				c.hasSource = true
				c.sourceIdx = int(srcIdx)
			}

		default:
			return rejectf("unsupported parameter %d", key)
		}
	}

	return nil
}
