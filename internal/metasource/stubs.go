package metasource

import (
	"context"
	"fmt"

	"github.com/katello/grinder/pkg/fetchengine"
)

// UnimplementedReader satisfies MetadataReader for source kinds whose
// native metadata parsing (yum/RPM repomd, RHN channels, treeinfo) is out
// of core scope. A real implementation is CLI/collaborator territory; this
// stub exists so cmd/grinder can wire every Kind to something and fail
// loudly, rather than the Driver needing a nil check per source type.
type UnimplementedReader struct {
	Kind Kind
}

// Descriptors always fails: wiring a real reader for Kind is the CLI
// front-end's job, not the core engine's.
func (u *UnimplementedReader) Descriptors(_ context.Context) ([]*fetchengine.FetchDescriptor, error) {
	return nil, fmt.Errorf("metasource: %s metadata reader is not implemented by the core engine", u.Kind)
}

var _ MetadataReader = (*UnimplementedReader)(nil)
