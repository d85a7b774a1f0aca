package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Entry is one file to place into the archive.
type Entry struct {
	// Name is the slash-separated path inside the zip.
	Name string
	// Path is the file on disk.
	Path string
}

// Result describes the outcome of writing a single entry into the zip.
type Result struct {
	Name string
	Err  string
}

const (
	archiveDirPerm os.FileMode = 0o750
	clipsPrefix                = "clips/"
)

var errNoEntries = errors.New("no entries to archive")

// Layout lists the dataset files in archive order: the given clips sorted by
// name under clips/, then metadata.csv and clusters.json at the root. Only
// the listed clips are packed, so stray files in the clips directory never
// reach the archive.
func Layout(clipPaths []string, metadataPath, clustersPath string) []Entry {
	clips := append([]string(nil), clipPaths...)
	sort.Slice(clips, func(i, j int) bool { return filepath.Base(clips[i]) < filepath.Base(clips[j]) })
	entries := make([]Entry, 0, len(clips)+2)
	for _, c := range clips {
		entries = append(entries, Entry{Name: clipsPrefix + filepath.Base(c), Path: c})
	}
	entries = append(entries,
		Entry{Name: filepath.Base(metadataPath), Path: metadataPath},
		Entry{Name: filepath.Base(clustersPath), Path: clustersPath},
	)
	return entries
}

// BuildArchive writes entries into a deflate zip at destZipPath. The zip is
// assembled in a temp file beside the destination and renamed into place, so
// destZipPath only ever holds a complete archive. Results has one element per
// entry; an unreadable entry is reported there and omitted from the zip.
func BuildArchive(ctx context.Context, destZipPath string, entries []Entry) ([]Result, error) {
	if len(entries) == 0 {
		return nil, errNoEntries
	}

	zipFile, zipWriter, err := prepareZip(destZipPath)
	if err != nil {
		return nil, err
	}
	tmpName := zipFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = zipFile.Close()
			_ = os.Remove(tmpName)
		}
	}()

	results := make([]Result, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results[:i], err
		}
		results[i] = writeEntry(zipWriter, entry, i)
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Sync(); err != nil {
		return results, fmt.Errorf("sync zip: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip file failed")
		return results, fmt.Errorf("close zip file: %w", err)
	}
	if err := os.Rename(tmpName, destZipPath); err != nil {
		return results, fmt.Errorf("rename zip: %w", err)
	}
	committed = true
	return results, nil
}

// prepareZip creates a temp file next to the destination and a zip writer for it.
func prepareZip(destZipPath string) (*os.File, *zip.Writer, error) {
	dir := filepath.Dir(destZipPath)
	if err := os.MkdirAll(dir, archiveDirPerm); err != nil { //nolint:gosec // directory created by application under controlled path
		return nil, nil, fmt.Errorf("ensure dir: %w", err)
	}
	zipFile, err := os.CreateTemp(dir, ".zip-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp zip: %w", err)
	}
	return zipFile, zip.NewWriter(zipFile), nil
}

// writeEntry streams one file into the zip, returning the Result.
func writeEntry(zipWriter *zip.Writer, entry Entry, index int) Result {
	name := entryName(entry, index)
	result := Result{Name: name}

	src, err := os.Open(entry.Path) //nolint:gosec // path is constructed by the application
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("entry", name).Err(err).Msg("open archive entry failed")
		return result
	}
	defer func() { _ = src.Close() }()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if info, err := src.Stat(); err == nil {
		header.Modified = info.ModTime()
	}
	zipEntryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("entry", name).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(zipEntryWriter, src); err != nil {
		result.Err = err.Error()
		log.Warn().Str("entry", name).Err(err).Msg("copy into zip failed")
	}
	return result
}

// entryName cleans the in-zip name or falls back to the file's base name.
func entryName(entry Entry, index int) string {
	name := strings.TrimLeft(path.Clean(filepath.ToSlash(strings.TrimSpace(entry.Name))), "/")
	if name == "" || name == "." {
		name = filepath.Base(entry.Path)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Sprintf("file-%d", index+1)
	}
	return name
}
