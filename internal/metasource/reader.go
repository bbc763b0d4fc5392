// Package metasource holds the external-collaborator side of the data
// flow: components that turn a repository's native metadata
// (repomd.xml, treeinfo, PULP_MANIFEST) into the flat sequence of
// FetchDescriptor values the core engine consumes. Repository-specific
// parsing logic lives here as a thin interface boundary, not as part of
// the core's hard concurrency and correctness surface.
package metasource

import (
	"context"

	"github.com/katello/grinder/pkg/fetchengine"
)

// MetadataReader produces the descriptors a Driver hands to a WorkerPool.
// Implementations may do network I/O (fetching and parsing repomd.xml,
// PULP_MANIFEST, treeinfo) but must not download the content objects
// themselves -- that is the Fetcher's job once a descriptor exists.
//
// A reader that talks to thread-unsafe native libraries (yum/RPM
// bindings) should be wrapped in a childproc.Process by its caller rather
// than implementing isolation itself; MetadataReader says nothing about
// process boundaries.
type MetadataReader interface {
	// Descriptors returns every content object this repository
	// advertises. No ordering or uniqueness is assumed by the caller.
	Descriptors(ctx context.Context) ([]*fetchengine.FetchDescriptor, error)
}

// Kind identifies which concrete MetadataReader a Driver should construct
// for a repository, mirroring the CLI's source-type flag (whose parsing
// lives in cmd/grinder, not here).
type Kind string

const (
	KindYum      Kind = "yum"
	KindRHN      Kind = "rhn"
	KindFile     Kind = "file"
	KindTreeinfo Kind = "treeinfo"
)
