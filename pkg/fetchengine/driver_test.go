package fetchengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

type fakeMetadataReader struct {
	descriptors []*FetchDescriptor
	err         error
}

func (f *fakeMetadataReader) Descriptors(_ context.Context) ([]*FetchDescriptor, error) {
	return f.descriptors, f.err
}

func writeSourceFile(t *testing.T, dir, name string, content []byte) (fileURL, checksum string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	sum := sha256.Sum256(content)
	return "file://" + path, hex.EncodeToString(sum[:])
}

func TestDriverSyncDownloadsEveryDescriptor(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	urlA, sumA := writeSourceFile(t, srcDir, "a.bin", []byte("hello world"))
	urlB, sumB := writeSourceFile(t, srcDir, "b.bin", []byte("goodbye world"))

	reader := &fakeMetadataReader{descriptors: []*FetchDescriptor{
		{FileName: "a.bin", DownloadURL: urlA, SavePath: destDir, ExpectedSize: 11, ChecksumType: ChecksumSHA256, Checksum: sumA, ItemType: ItemFile},
		{FileName: "b.bin", DownloadURL: urlB, SavePath: destDir, ExpectedSize: 13, ChecksumType: ChecksumSHA256, Checksum: sumB, ItemType: ItemFile},
	}}

	d := NewDriver(DriverConfig{
		RepoLabel:   "testrepo",
		BasePath:    t.TempDir(),
		Parallelism: 2,
	}, reader)

	report, err := d.Sync(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Successes != 2 || report.Errors != 0 {
		t.Fatalf("report = %+v, want 2 successes 0 errors", report)
	}
	for _, name := range []string{"a.bin", "b.bin"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
}

func TestDriverSyncFatalOnReaderError(t *testing.T) {
	reader := &fakeMetadataReader{err: os.ErrPermission}
	d := NewDriver(DriverConfig{RepoLabel: "testrepo", BasePath: t.TempDir(), Parallelism: 1}, reader)

	if _, err := d.Sync(context.Background(), nil); err == nil {
		t.Fatal("expected fatal error from metadata reader, got nil")
	}
}

func TestDriverFinalizeMetadataRenamesStagedTree(t *testing.T) {
	base := t.TempDir()
	d := NewDriver(DriverConfig{RepoLabel: "testrepo", BasePath: base, Parallelism: 1}, &fakeMetadataReader{})

	staged := filepath.Join(d.repoDir(), "repodata.new")
	if err := os.MkdirAll(staged, 0o755); err != nil {
		t.Fatalf("mkdir staged: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staged, "repomd.xml"), []byte("<repomd/>"), 0o644); err != nil {
		t.Fatalf("write repomd: %v", err)
	}

	d.finalizeMetadata(nil)

	final := filepath.Join(d.repoDir(), "repodata")
	if _, err := os.Stat(filepath.Join(final, "repomd.xml")); err != nil {
		t.Fatalf("expected finalized repomd.xml: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("expected staged dir removed, stat err = %v", err)
	}
}

func TestDriverFinalizeMetadataNoopWithoutStagedTree(t *testing.T) {
	base := t.TempDir()
	d := NewDriver(DriverConfig{RepoLabel: "testrepo", BasePath: base, Parallelism: 1}, &fakeMetadataReader{})
	// Must not panic or error when there's nothing staged.
	d.finalizeMetadata(nil)
}

func TestDriverPurgeOrphanedRemovesUntrackedFiles(t *testing.T) {
	destDir := t.TempDir()
	for _, name := range []string{"keep.rpm", "stale.rpm"} {
		if err := os.WriteFile(filepath.Join(destDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	descriptors := []*FetchDescriptor{
		{FileName: "keep.rpm", SavePath: destDir, DownloadURL: "file:///dev/null", ItemType: ItemRPM},
	}
	d := NewDriver(DriverConfig{RepoLabel: "testrepo", BasePath: t.TempDir(), Parallelism: 1, PurgeOrphaned: true}, &fakeMetadataReader{})
	d.purgeOrphaned(descriptors, nil)

	if _, err := os.Stat(filepath.Join(destDir, "keep.rpm")); err != nil {
		t.Errorf("keep.rpm should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "stale.rpm")); !os.IsNotExist(err) {
		t.Errorf("stale.rpm should be removed, stat err = %v", err)
	}
}

func TestDriverRemoveOldPackagesKeepsNewestPlusConfiguredOld(t *testing.T) {
	destDir := t.TempDir()
	names := []string{
		"pkg-1.0-1.x86_64.rpm",
		"pkg-1.1-1.x86_64.rpm",
		"pkg-1.2-1.x86_64.rpm",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(destDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	descriptors := []*FetchDescriptor{{FileName: names[0], SavePath: destDir, DownloadURL: "file:///dev/null", ItemType: ItemRPM}}
	d := NewDriver(DriverConfig{
		RepoLabel: "testrepo", BasePath: t.TempDir(), Parallelism: 1,
		RemoveOld: true, NumOldPackages: 1,
	}, &fakeMetadataReader{})
	d.removeOldPackages(descriptors, nil)

	if _, err := os.Stat(filepath.Join(destDir, "pkg-1.0-1.x86_64.rpm")); !os.IsNotExist(err) {
		t.Errorf("oldest revision should be pruned, stat err = %v", err)
	}
	for _, name := range names[1:] {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %s to survive: %v", name, err)
		}
	}
}
