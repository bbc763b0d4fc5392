package metasource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/katello/grinder/pkg/childproc"
	"github.com/katello/grinder/pkg/fetchengine"
	"github.com/katello/grinder/pkg/logger"
)

// FileManifestReaderConfig is the JSON-serializable subset of
// FileManifestReader's fields a child process needs to reconstruct the
// reader -- everything except Client, which the child rebuilds from
// scratch rather than carrying an *http.Client across the process
// boundary.
type FileManifestReaderConfig struct {
	RepoURL         string `json:"repo_url"`
	SavePath        string `json:"save_path"`
	SharedStorePath string `json:"shared_store_path"`
}

// ReaderConfig selects and parameterizes the one concrete MetadataReader a
// childproc-isolated worker should construct, mirroring buildReader's own
// switch on Kind. Exactly one of the per-kind fields is set.
type ReaderConfig struct {
	Kind         Kind                      `json:"kind"`
	FileManifest *FileManifestReaderConfig `json:"file_manifest,omitempty"`
}

// buildFromConfig constructs the concrete reader a ReaderConfig names,
// the child-side counterpart of cmd/grinder's buildReader.
func buildFromConfig(cfg ReaderConfig) (MetadataReader, error) {
	switch cfg.Kind {
	case KindFile:
		if cfg.FileManifest == nil {
			return nil, fmt.Errorf("metasource: file manifest config missing")
		}
		return &FileManifestReader{
			RepoURL:         cfg.FileManifest.RepoURL,
			SavePath:        cfg.FileManifest.SavePath,
			SharedStorePath: cfg.FileManifest.SharedStorePath,
		}, nil
	default:
		return &UnimplementedReader{Kind: cfg.Kind}, nil
	}
}

// readerCapability adapts a MetadataReader to childproc.Capability: its
// only RPC method is "Descriptors", and since none of the readers built
// from a ReaderConfig carry mutable state worth mirroring back to the
// parent between calls, State/Restore are no-ops over an empty object.
type readerCapability struct {
	cfg    ReaderConfig
	reader MetadataReader
}

const descriptorsMethod = "Descriptors"

func (c *readerCapability) Invoke(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if method != descriptorsMethod {
		return nil, fmt.Errorf("metasource: child reader has no method %q", method)
	}
	if c.reader == nil {
		reader, err := buildFromConfig(c.cfg)
		if err != nil {
			return nil, err
		}
		c.reader = reader
	}
	descriptors, err := c.reader.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(descriptors)
}

func (c *readerCapability) State() (json.RawMessage, error) {
	return json.RawMessage("{}"), nil
}

func (c *readerCapability) Restore(state json.RawMessage) error {
	return nil
}

var _ childproc.Capability = (*readerCapability)(nil)

// ServeReaderChild is the child process's entire body: it rebuilds the
// MetadataReader cfg names and serves it over childproc's framed RPC
// channel on stdin/stdout until the parent closes the pipe. Called from a
// hidden CLI subcommand that a ChildMetadataReader's Spawner re-execs the
// binary into -- the same shape cmd/daemon.go uses to background itself
// under a hidden flag.
func ServeReaderChild(cfg ReaderConfig) error {
	reader, err := buildFromConfig(cfg)
	if err != nil {
		return err
	}
	return childproc.Serve(&readerCapability{cfg: cfg, reader: reader}, nil)
}

// ChildMetadataReader wraps any ReaderConfig-describable MetadataReader so
// its Descriptors call runs inside an isolated subprocess: this is how a
// caller keeps thread-unsafe native metadata-parsing
// libraries from corrupting the parent process, and how a slow or wedged
// metadata fetch can be aborted by killing the child rather than blocking
// the driver indefinitely.
type ChildMetadataReader struct {
	proc *childproc.Process
}

// NewChildMetadataReader builds a ChildMetadataReader. spawn builds the
// *exec.Cmd that re-execs the calling binary into ServeReaderChild's
// hidden subcommand, already closed over the ReaderConfig it should
// reconstruct there; log receives respawn warnings and any LOG records the
// child forwards over the protocol.
func NewChildMetadataReader(spawn childproc.Spawner, log logger.Logger) *ChildMetadataReader {
	return &ChildMetadataReader{
		proc: childproc.New(spawn, nil, &loggerLogSink{log: log}, log),
	}
}

// loggerLogSink routes a child's forwarded LOG records into the parent's
// own logger.Logger under the child's logger name and level.
type loggerLogSink struct {
	log logger.Logger
}

func (s *loggerLogSink) Log(loggerName string, level childproc.LogLevel, message string) {
	if s.log == nil {
		return
	}
	switch level {
	case childproc.LogError:
		s.log.Error("%s: %s", loggerName, message)
	case childproc.LogWarning:
		s.log.Warning("%s: %s", loggerName, message)
	default:
		s.log.Info("%s: %s", loggerName, message)
	}
}

// Descriptors invokes the child's "Descriptors" method and unmarshals its
// reply, isolating whatever metadata parsing cfg.Kind performs from this
// process.
func (r *ChildMetadataReader) Descriptors(ctx context.Context) ([]*fetchengine.FetchDescriptor, error) {
	var descriptors []*fetchengine.FetchDescriptor
	if err := r.proc.Call(ctx, descriptorsMethod, nil, &descriptors); err != nil {
		return nil, fmt.Errorf("metasource: child reader: %w", err)
	}
	return descriptors, nil
}

// Close aborts the child process. Safe to call even if Descriptors was
// never invoked (no process was spawned).
func (r *ChildMetadataReader) Close() error {
	return r.proc.Close()
}

var _ MetadataReader = (*ChildMetadataReader)(nil)
