package suit

import "bytes"

// Version returns the manifest-version field. Always 1 for a
// successfully parsed Context.
func (c *Context) Version() uint64 { return c.version }

// SequenceNumber returns the manifest's sequence number.
func (c *Context) SequenceNumber() uint64 { return c.sequenceNumber }

// ComponentCount returns the number of components declared by the
// manifest's common block.
func (c *Context) ComponentCount() int { return c.componentCount }

// MustRun reports whether a run directive targeted component idx.
// idx must be < ComponentCount(); out-of-range indices are undefined.
func (c *Context) MustRun(idx int) bool { return c.components[idx].run }

// Size returns the declared image size for component idx, or 0 if unset.
func (c *Context) Size(idx int) uint64 { return c.components[idx].size }

// HasSize reports whether component idx has a nonzero declared size.
func (c *Context) HasSize(idx int) bool { return c.Size(idx) != 0 }

// DigestAlgorithm returns the digest algorithm for component idx's image
// digest, or DigestAlgorithmUnset if none was set.
func (c *Context) DigestAlgorithm(idx int) DigestAlgorithm { return c.components[idx].digestAlg }

// HasDigest reports whether component idx has an image digest set.
func (c *Context) HasDigest(idx int) bool {
	return c.components[idx].digestAlg != DigestAlgorithmUnset && c.components[idx].digest != nil
}

// DigestMatches reports whether component idx has a digest equal to the
// given bytes. Comparison is length-checked before byte comparison.
func (c *Context) DigestMatches(idx int, digest []byte) bool {
	if !c.HasDigest(idx) {
		return false
	}
	return bytes.Equal(c.components[idx].digest, digest)
}

// ArchiveAlgorithm returns the archive/compression algorithm for
// component idx, or ArchiveAlgorithmUnset if none was set.
func (c *Context) ArchiveAlgorithm(idx int) ArchiveAlgorithm { return c.components[idx].archiveAlg }

// HasURI reports whether component idx has a URI set.
func (c *Context) HasURI(idx int) bool { return c.components[idx].hasURI }

// URI returns the URI for component idx, or "" if unset.
func (c *Context) URI(idx int) string { return c.components[idx].uri }

// HasVendorID reports whether component idx has a vendor ID set.
func (c *Context) HasVendorID(idx int) bool { return c.components[idx].vendorID != nil }

// VendorIDMatches reports whether component idx's vendor ID equals the
// given bytes.
func (c *Context) VendorIDMatches(idx int, vendorID []byte) bool {
	if !c.HasVendorID(idx) {
		return false
	}
	return bytes.Equal(c.components[idx].vendorID, vendorID)
}

// HasClassID reports whether component idx has a class ID set.
func (c *Context) HasClassID(idx int) bool { return c.components[idx].classID != nil }

// ClassIDMatches reports whether component idx's class ID equals the
// given bytes.
func (c *Context) ClassIDMatches(idx int, classID []byte) bool {
	if !c.HasClassID(idx) {
		return false
	}
	return bytes.Equal(c.components[idx].classID, classID)
}

// HasSourceComponent reports whether component idx carries a
// source_component back-reference.
func (c *Context) HasSourceComponent(idx int) bool { return c.components[idx].hasSource }

// SourceComponent returns the index component idx's source_component
// refers to. The second return value is false if no source was set.
func (c *Context) SourceComponent(idx int) (int, bool) {
	comp := &c.components[idx]
	return comp.sourceIdx, comp.hasSource
}
