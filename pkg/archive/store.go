// Package archive reads packaged (.tgz) charts and caches their extracted
// members keyed by the archive's modification time.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/oleksiyp/helmlens/pkg/chartmeta"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"go.uber.org/zap"
)

// Default values members probed inside an archive, in order
var valuesMembers = []string{"values.yaml", "values.yml"}

var archiveNamePattern = regexp.MustCompile(`^(.+?)-(\d+\.\d+\.\d+[^/]*?)\.(tgz|tar\.gz)$`)

// entry is one extracted archive. A failed extraction is cached as well so
// a corrupt archive warns once per modification time.
type entry struct {
	files   map[string]string
	modTime time.Time
	failed  bool
}

// Store extracts chart archives and caches their text members
type Store struct {
	fs       vfs.FileSystem
	logger   *zap.Logger
	notifier notify.Notifier
	now      func() time.Time
	entries  map[string]*entry
	mu       sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets where corruption warnings are delivered
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// NewStore creates a new archive store reading through fsys
func NewStore(fsys vfs.FileSystem, opts ...Option) *Store {
	if fsys == nil {
		fsys = vfs.OS{}
	}
	s := &Store{
		fs:      fsys,
		logger:  zap.NewNop(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsArchive reports whether name looks like a packaged chart
func IsArchive(name string) bool {
	return strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".tar.gz")
}

// ParseArchiveName splits a "name-major.minor.patch.tgz" file name
func ParseArchiveName(filename string) (name, version string, ok bool) {
	m := archiveNamePattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ReadMember returns the text of memberPath inside the archive. Member paths
// are relative to the chart directory packaged in the archive.
func (s *Store) ReadMember(ctx context.Context, archivePath, memberPath string) (string, bool) {
	files, ok := s.members(ctx, archivePath)
	if !ok {
		return "", false
	}
	content, ok := files[normalizeMember(memberPath)]
	return content, ok
}

// Members returns the relative paths of every extracted member
func (s *Store) Members(ctx context.Context, archivePath string) []string {
	files, ok := s.members(ctx, archivePath)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(files))
	for name := range files {
		result = append(result, name)
	}
	return result
}

// Metadata decodes the archive's Chart.yaml
func (s *Store) Metadata(ctx context.Context, archivePath string) (*chartmeta.Metadata, bool) {
	data, ok := s.ReadMember(ctx, archivePath, chartmeta.FileName)
	if !ok {
		return nil, false
	}
	meta, err := chartmeta.Parse([]byte(data))
	if err != nil {
		s.logger.Debug("invalid chart metadata in archive",
			zap.String("archive", archivePath),
			zap.Error(err))
		return nil, false
	}
	return meta, true
}

// ChartName returns the chart name from the archive metadata, falling back to
// the name-version file name pattern and finally to the bare file name.
func (s *Store) ChartName(ctx context.Context, archivePath string) string {
	if meta, ok := s.Metadata(ctx, archivePath); ok && meta.Name != "" {
		return meta.Name
	}
	if name, _, ok := ParseArchiveName(archivePath); ok {
		return name
	}
	base := filepath.Base(archivePath)
	base = strings.TrimSuffix(base, ".tgz")
	return strings.TrimSuffix(base, ".tar.gz")
}

// DefaultValues returns the archive's default values text and the member it
// was read from.
func (s *Store) DefaultValues(ctx context.Context, archivePath string) (member, content string, ok bool) {
	for _, name := range valuesMembers {
		if content, ok := s.ReadMember(ctx, archivePath, name); ok {
			return name, content, true
		}
	}
	return "", "", false
}

// Invalidate drops the cached extraction of one archive
func (s *Store) Invalidate(archivePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, archivePath)
}

// InvalidateDirectory drops every cached archive under dir
func (s *Store) InvalidateDirectory(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if withinDir(key, dir) {
			delete(s.entries, key)
		}
	}
}

// Clear drops every cached archive
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// Len returns the number of cached archives
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// members returns the member map, extracting again when the archive's
// modification time differs from the cached one.
func (s *Store) members(ctx context.Context, archivePath string) (map[string]string, bool) {
	info, err := s.fs.Stat(archivePath)
	if err != nil {
		s.Invalidate(archivePath)
		return nil, false
	}
	modTime := info.ModTime()

	s.mu.Lock()
	if e, ok := s.entries[archivePath]; ok && e.modTime.Equal(modTime) {
		s.mu.Unlock()
		return e.files, !e.failed
	}
	s.mu.Unlock()

	files, err := s.extract(ctx, archivePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		s.mu.Lock()
		s.entries[archivePath] = &entry{modTime: modTime, failed: true}
		s.mu.Unlock()
		s.warn(archivePath, err)
		return nil, false
	}

	s.mu.Lock()
	s.entries[archivePath] = &entry{files: files, modTime: modTime}
	s.mu.Unlock()

	s.logger.Debug("extracted chart archive",
		zap.String("archive", archivePath),
		zap.Int("members", len(files)))
	return files, true
}

func (s *Store) extract(ctx context.Context, archivePath string) (map[string]string, error) {
	f, err := s.fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}
	defer gz.Close()

	files := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry: %w", err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		name := stripFirstComponent(hdr.Name)
		if name == "" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive member %s: %w", hdr.Name, err)
		}
		files[name] = string(data)
	}
	return files, nil
}

// warn reports a failed extraction to the notifier, or to the log when no
// notifier is attached
func (s *Store) warn(archivePath string, err error) {
	if s.notifier == nil {
		s.logger.Warn("failed to extract chart archive",
			zap.String("archive", archivePath),
			zap.Error(err))
		return
	}
	warning := notify.Warning{
		Timestamp: s.now(),
		Kind:      notify.KindArchiveCorrupt,
		Source:    archivePath,
		Message:   fmt.Sprintf("failed to extract chart archive: %v", err),
	}
	if err := s.notifier.Notify(warning); err != nil {
		s.logger.Debug("failed to deliver warning", zap.Error(err))
	}
}

// stripFirstComponent drops the top-level chart directory every packaged
// chart is wrapped in.
func stripFirstComponent(name string) string {
	name = normalizeMember(name)
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func normalizeMember(name string) string {
	name = filepath.ToSlash(name)
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return ""
	}
	return path.Clean(name)
}

func withinDir(p, dir string) bool {
	if p == dir {
		return true
	}
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}
