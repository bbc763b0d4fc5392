package metasource

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/katello/grinder/pkg/fetchengine"
)

// manifestFileName is the well-known name Pulp-style file repositories
// publish at their root, per FileFetch.py's prepareFiles.
const manifestFileName = "PULP_MANIFEST"

// FileManifestReader turns a repository's PULP_MANIFEST CSV into
// FetchDescriptors for the plain "file" item type. Each manifest line is
// "relative/path,sha256-hex-checksum,size-in-bytes" with no header row,
// matching the columns FileFetch.py's fetchItem reads out of
// parseManifest's per-entry dict (filename, checksum, size).
type FileManifestReader struct {
	// RepoURL is the repository root the manifest and every file in it
	// are resolved relative to.
	RepoURL string
	// SavePath is the repo-local destination directory every descriptor
	// is given.
	SavePath string
	// SharedStorePath, if set, is passed through to every descriptor
	// unchanged so Fetcher stores content-addressed and symlinks it in.
	SharedStorePath string
	// Client performs the manifest GET. A nil Client uses
	// http.DefaultClient.
	Client *http.Client
}

// Descriptors downloads and parses PULP_MANIFEST from RepoURL, returning
// one FetchDescriptor per entry. The manifest file itself gets no
// descriptor.
func (r *FileManifestReader) Descriptors(ctx context.Context) ([]*fetchengine.FetchDescriptor, error) {
	manifestURL, err := joinRepoURL(r.RepoURL, manifestFileName)
	if err != nil {
		return nil, fmt.Errorf("metasource: build manifest url: %w", err)
	}

	body, err := r.fetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	entries, err := parseManifest(body)
	if err != nil {
		return nil, fmt.Errorf("metasource: parse %s: %w", manifestFileName, err)
	}

	descriptors := make([]*fetchengine.FetchDescriptor, 0, len(entries))
	for _, e := range entries {
		itemURL, err := joinRepoURL(r.RepoURL, e.relPath)
		if err != nil {
			return nil, fmt.Errorf("metasource: build item url for %s: %w", e.relPath, err)
		}
		descriptors = append(descriptors, &fetchengine.FetchDescriptor{
			FileName:        fetchengine.SanitizeFilename(path.Base(e.relPath)),
			DownloadURL:     itemURL,
			SavePath:        r.SavePath,
			ExpectedSize:    e.size,
			ChecksumType:    fetchengine.ChecksumSHA256,
			Checksum:        e.checksum,
			SharedStorePath: r.sharedStorePathFor(e),
			ItemType:        fetchengine.ItemFile,
		})
	}
	return descriptors, nil
}

// sharedStorePathFor mirrors FileFetch.py's content-addressed pkgpath
// convention (shared/<first 3 chars of file>/<file>/<checksum>/) when a
// shared store is configured; otherwise descriptors land directly under
// SavePath.
func (r *FileManifestReader) sharedStorePathFor(e manifestEntry) string {
	if r.SharedStorePath == "" {
		return ""
	}
	base := path.Base(e.relPath)
	prefix := base
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return path.Join(r.SharedStorePath, prefix, base, e.checksum)
}

func (r *FileManifestReader) fetchManifest(ctx context.Context, manifestURL string) (io.ReadCloser, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metasource: fetch %s: %w", manifestURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("metasource: fetch %s: unexpected status %d", manifestURL, resp.StatusCode)
	}
	return resp.Body, nil
}

type manifestEntry struct {
	relPath  string
	checksum string
	size     int64
}

// parseManifest reads the CSV body of a PULP_MANIFEST: one entry per
// line, three fields, no header, blank lines and '#'-prefixed comment
// lines ignored.
func parseManifest(r io.Reader) ([]manifestEntry, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []manifestEntry
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 || strings.HasPrefix(strings.TrimSpace(record[0]), "#") {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("malformed manifest line %q: want 3 fields, got %d", strings.Join(record, ","), len(record))
		}
		size, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed manifest size %q: %w", record[2], err)
		}
		entries = append(entries, manifestEntry{
			relPath:  strings.TrimSpace(record[0]),
			checksum: strings.TrimSpace(record[1]),
			size:     size,
		})
	}
	return entries, nil
}

func joinRepoURL(base, relPath string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(relPath, "/")
	return u.String(), nil
}

var _ MetadataReader = (*FileManifestReader)(nil)
