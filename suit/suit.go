// Copyright (c) 2021 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package suit decodes and authenticates SUIT (Software Updates for IoT)
// manifests: a signed CBOR envelope wrapping a firmware-update manifest,
// and the command-sequence language inside that manifest which assigns
// vendor/class IDs, image digests, URIs, sizes and run flags to a fixed
// set of components.
//
// The package records intent only. It never fetches, copies, installs or
// executes anything, and it never recovers partially from malformed
// input: any structural or semantic error rejects the whole envelope or
// manifest and the caller must discard the Context.
package suit

// MaxComponents bounds the number of components a manifest may declare.
// It is a deploy-time constant, matching the fixed-capacity component
// array constrained devices size their stack around.
const MaxComponents = 8

// ManifestVersion is the only manifest version this package accepts.
const ManifestVersion = 1

// DigestAlgorithm identifies the hash algorithm used for a component's
// image digest. Zero is the unset sentinel.
type DigestAlgorithm uint64

const (
	DigestAlgorithmUnset DigestAlgorithm = 0
	DigestAlgorithmSHA256 DigestAlgorithm = 1
)

// ArchiveAlgorithm identifies a component image's compression/archive
// format. Zero is the unset sentinel.
type ArchiveAlgorithm uint64

const (
	ArchiveAlgorithmUnset ArchiveAlgorithm = 0
	ArchiveAlgorithmGzip  ArchiveAlgorithm = 1
	ArchiveAlgorithmLZMA  ArchiveAlgorithm = 2
)

// Component is one addressable storage/execution slot of the manifest.
// String and byte fields hold copies of values decoded from the manifest
// passed to ParseInit; they do not alias that buffer. A zero-value
// Component is "unset" in every field.
type Component struct {
	run bool

	size       uint64
	digestAlg  DigestAlgorithm
	archiveAlg ArchiveAlgorithm

	digest   []byte
	vendorID []byte
	classID  []byte
	uri      string
	hasURI   bool

	hasSource bool
	sourceIdx int
}

// Context holds the fully parsed state of one manifest: its header
// fields and a fixed-capacity array of component records. Every string
// or byte-slice field reachable from a Context is a copy; none borrows
// from the manifest buffer given to ParseInit.
//
// On any parse failure the contents of a Context are unspecified; the
// caller must discard it rather than read from it.
type Context struct {
	version         uint64
	sequenceNumber  uint64
	componentCount  int
	components      [MaxComponents]Component
}
