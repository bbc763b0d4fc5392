package metasource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/katello/grinder/pkg/fetchengine"
)

func TestBuildFromConfigFile(t *testing.T) {
	cfg := ReaderConfig{
		Kind: KindFile,
		FileManifest: &FileManifestReaderConfig{
			RepoURL:  "http://example.invalid/repo",
			SavePath: "/var/repo",
		},
	}
	reader, err := buildFromConfig(cfg)
	if err != nil {
		t.Fatalf("buildFromConfig: %v", err)
	}
	fm, ok := reader.(*FileManifestReader)
	if !ok {
		t.Fatalf("got %T, want *FileManifestReader", reader)
	}
	if fm.RepoURL != cfg.FileManifest.RepoURL || fm.SavePath != cfg.FileManifest.SavePath {
		t.Errorf("reader fields not copied from config: %+v", fm)
	}
}

func TestBuildFromConfigFileMissingManifestConfig(t *testing.T) {
	if _, err := buildFromConfig(ReaderConfig{Kind: KindFile}); err == nil {
		t.Fatal("expected error when FileManifest config is nil")
	}
}

func TestBuildFromConfigUnknownKindIsUnimplemented(t *testing.T) {
	reader, err := buildFromConfig(ReaderConfig{Kind: KindYum})
	if err != nil {
		t.Fatalf("buildFromConfig: %v", err)
	}
	if _, ok := reader.(*UnimplementedReader); !ok {
		t.Fatalf("got %T, want *UnimplementedReader", reader)
	}
}

// TestReaderCapabilityInvoke exercises the same Invoke path childproc.Serve
// calls in the child process, without spawning a real subprocess: it
// drives readerCapability directly against a FileManifestReader pointed at
// an httptest server.
func TestReaderCapabilityInvoke(t *testing.T) {
	srv := newManifestServer(t, sampleManifest)
	t.Cleanup(srv.Close)

	cfg := ReaderConfig{
		Kind: KindFile,
		FileManifest: &FileManifestReaderConfig{
			RepoURL:  srv.URL,
			SavePath: "/var/repo",
		},
	}
	cap := &readerCapability{cfg: cfg}

	raw, err := cap.Invoke(context.Background(), descriptorsMethod, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	var descriptors []*fetchengine.FetchDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(descriptors))
	}
}

func TestReaderCapabilityInvokeUnknownMethod(t *testing.T) {
	cap := &readerCapability{cfg: ReaderConfig{Kind: KindFile, FileManifest: &FileManifestReaderConfig{}}}
	if _, err := cap.Invoke(context.Background(), "Bogus", nil); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestReaderCapabilityStateIsEmptyObject(t *testing.T) {
	cap := &readerCapability{}
	state, err := cap.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if string(state) != "{}" {
		t.Errorf("State() = %s, want {}", state)
	}
	if err := cap.Restore(state); err != nil {
		t.Errorf("Restore: %v", err)
	}
}

func TestReaderConfigRoundTripsThroughJSON(t *testing.T) {
	cfg := ReaderConfig{
		Kind: KindFile,
		FileManifest: &FileManifestReaderConfig{
			RepoURL:         "http://h/repo",
			SavePath:        "/dest",
			SharedStorePath: "/shared",
		},
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ReaderConfig
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != cfg.Kind || decoded.FileManifest == nil || *decoded.FileManifest != *cfg.FileManifest {
		t.Errorf("round-trip mismatch: got %+v, want %+v", decoded, cfg)
	}
}
