// Package archive implements the ARH1 container format: a flat sequence of
// file and directory entries, each carrying POSIX metadata and, for files,
// an archuffer-compressed blob. It is the framer layer built on top of the
// whole-buffer codec in the root package.
package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lmoreau/archuffer"
)

// Magic is the 4-byte container identifier written at the start of every
// archive.
var Magic = [4]byte{'A', 'R', 'H', '1'}

// Container format versions. Version1 predates per-entry POSIX metadata;
// Version2 adds mode/uid/gid. Extract accepts both; Create always writes
// Version2.
const (
	Version1 = 1
	Version2 = 2
)

var (
	// ErrBadMagic is returned when a stream does not start with Magic.
	ErrBadMagic = errors.New("archive: bad magic")
	// ErrBadVersion is returned for a container version Extract does not
	// understand.
	ErrBadVersion = errors.New("archive: unsupported container version")
	// ErrUnsafePath is returned when an entry's stored path would resolve
	// outside the extraction destination root.
	ErrUnsafePath = errors.New("archive: unsafe path")
	// ErrNotFound is returned by Create when a requested target does not
	// exist on disk.
	ErrNotFound = errors.New("archive: target not found")
)

// unknownID marks an absent uid/gid, mirroring the wire sentinel 0xFFFFFFFF.
const unknownID = 0xFFFFFFFF

// Kind distinguishes file entries from directory entries. The container has
// no third kind: symlinks and other special files are out of scope.
type Kind uint8

const (
	KindFile Kind = 0
	KindDir  Kind = 1
)

// Entry describes one archived path and its POSIX metadata.
type Entry struct {
	Path string // POSIX-style, relative to the archive root
	Kind Kind
	Mode os.FileMode
	UID  uint32 // unknownID if not recorded
	GID  uint32 // unknownID if not recorded
}

// ProgressFunc reports per-file progress during Create/Extract. done and
// total are overall bytes across the whole operation, not just the entry in
// flight.
type ProgressFunc func(entryPath string, done, total int)

func (f ProgressFunc) call(entryPath string, done, total int) {
	if f == nil {
		return
	}
	defer func() { _ = recover() }()
	f(entryPath, done, total)
}

// CreateOptions configures Create.
type CreateOptions struct {
	// OnProgress, if set, is called as file bytes are compressed.
	OnProgress ProgressFunc
}

// ExtractOptions configures Extract.
type ExtractOptions struct {
	// OnProgress, if set, is called as file bytes are decompressed.
	OnProgress ProgressFunc
	// Logger receives a warning for any entry that fails to extract;
	// extraction of the remaining entries continues. Defaults to
	// logrus.StandardLogger() if nil.
	Logger *logrus.Logger
}

// Stats summarizes the byte totals of a Create call, enough to report a
// compression ratio.
type Stats struct {
	OriginalBytes   int64
	CompressedBytes int64
}

// Ratio returns CompressedBytes/OriginalBytes, or 0 if no file bytes were
// archived.
func (s Stats) Ratio() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return float64(s.CompressedBytes) / float64(s.OriginalBytes)
}

// Create walks targets (files or directories, archived recursively) and
// writes an ARH1 container to w.
func Create(w io.Writer, targets []string, opts CreateOptions) (Stats, error) {
	entries, err := walkTargets(targets)
	if err != nil {
		return Stats{}, err
	}

	var totalBytes int64
	for _, e := range entries {
		if e.entry.Kind == KindFile {
			totalBytes += e.size
		}
	}

	if err := writeHeader(w, len(entries)); err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, e := range entries {
		if err := writeEntryHeader(w, e.entry); err != nil {
			return stats, errors.Wrapf(err, "archive: write entry header %q", e.entry.Path)
		}
		if e.entry.Kind == KindDir {
			continue
		}

		data, err := os.ReadFile(e.fsPath)
		if err != nil {
			return stats, errors.Wrapf(err, "archive: read %q", e.fsPath)
		}

		base := stats.OriginalBytes
		comp, err := archuffer.Compress(data, func(done, total int) {
			opts.OnProgress.call(e.entry.Path, int(base)+done, int(totalBytes))
		})
		if err != nil {
			return stats, errors.Wrapf(err, "archive: compress %q", e.entry.Path)
		}
		stats.OriginalBytes += int64(len(data))
		stats.CompressedBytes += int64(len(comp))

		if err := writeUint32(w, uint32(len(comp))); err != nil {
			return stats, err
		}
		if _, err := w.Write(comp); err != nil {
			return stats, errors.Wrapf(err, "archive: write %q", e.entry.Path)
		}
	}
	return stats, nil
}

// parsedEntry is one entry header plus its raw compressed blob (absent for
// directories), read during Extract's header pre-scan pass.
type parsedEntry struct {
	entry Entry
	blob  []byte
}

// Extract reads an ARH1 container from r and recreates its entries under
// destRoot. A failure on one entry is logged and skipped; Extract only
// returns an error for container-level problems (bad magic/version, unsafe
// path, truncated stream).
//
// Extract first reads the whole container and pre-scans every entry header
// to total the uncompressed bytes across all files, mirroring
// original_source/main.py's extract_archive, which pre-scans headers to
// compute total_uncompressed before the extraction loop — this is what lets
// the OnProgress callback report a running total across the whole archive
// rather than resetting at each file.
func Extract(r io.Reader, destRoot string, opts ExtractOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "archive: read container")
	}
	br := bytes.NewReader(raw)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return errors.Wrap(err, "archive: read magic")
	}
	if magic != Magic {
		return ErrBadMagic
	}
	version, err := readUint8(br)
	if err != nil {
		return err
	}
	if version != Version1 && version != Version2 {
		return ErrBadVersion
	}
	count, err := readUint32(br)
	if err != nil {
		return err
	}

	entries := make([]parsedEntry, 0, count)
	var totalBytes int64
	for i := uint32(0); i < count; i++ {
		entry, err := readEntryHeader(br, version)
		if err != nil {
			return errors.Wrap(err, "archive: read entry header")
		}
		pe := parsedEntry{entry: entry}
		if entry.Kind == KindFile {
			size, err := readUint32(br)
			if err != nil {
				return errors.Wrap(err, "archive: read compressed size")
			}
			pe.blob = make([]byte, size)
			if _, err := io.ReadFull(br, pe.blob); err != nil {
				return errors.Wrapf(err, "archive: read compressed body %q", entry.Path)
			}
			totalBytes += blobOriginalSize(pe.blob)
		}
		entries = append(entries, pe)
	}

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return errors.Wrapf(err, "archive: create destination %q", destRoot)
	}

	var doneBytes int64
	for _, pe := range entries {
		entry := pe.entry
		fullPath, err := safeJoin(destRoot, entry.Path)
		if err != nil {
			return err
		}

		if entry.Kind == KindDir {
			if err := os.MkdirAll(fullPath, entry.Mode); err != nil {
				logger.WithError(err).Warnf("archive: mkdir %q", entry.Path)
				continue
			}
			if err := os.Chmod(fullPath, entry.Mode); err != nil {
				logger.WithError(err).Warnf("archive: chmod %q", entry.Path)
			}
			if err := chown(fullPath, entry); err != nil {
				logger.WithError(err).Warnf("archive: chown %q", entry.Path)
			}
			continue
		}

		base := doneBytes
		data, err := archuffer.Decompress(pe.blob, func(done, total int) {
			opts.OnProgress.call(entry.Path, int(base)+done, int(totalBytes))
		})
		if err != nil {
			logger.WithError(err).Warnf("archive: decompress %q", entry.Path)
			continue
		}
		doneBytes += int64(len(data))

		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			logger.WithError(err).Warnf("archive: mkdir parent of %q", entry.Path)
			continue
		}
		if err := os.WriteFile(fullPath, data, entry.Mode); err != nil {
			logger.WithError(err).Warnf("archive: write %q", entry.Path)
			continue
		}
		if err := os.Chmod(fullPath, entry.Mode); err != nil {
			logger.WithError(err).Warnf("archive: chmod %q", entry.Path)
		}
		if err := chown(fullPath, entry); err != nil {
			logger.WithError(err).Warnf("archive: chown %q", entry.Path)
		}
	}
	return nil
}

// blobOriginalSize peeks the original-size field (bytes 1-4, little endian)
// out of a compressed blob's header without decompressing it, per the
// per-blob wire layout (version byte, then a 4-byte original size).
func blobOriginalSize(blob []byte) int64 {
	if len(blob) < 5 {
		return 0
	}
	return int64(binary.LittleEndian.Uint32(blob[1:5]))
}

type walkedEntry struct {
	entry  Entry
	fsPath string
	size   int64
}

// walkTargets expands targets (files or directories) into a flat, ordered
// entry list: each directory precedes its children, and siblings are
// lexicographic, matching the deterministic ordering the original walker
// produced via sorted os.walk dirs/files.
func walkTargets(targets []string) ([]walkedEntry, error) {
	var out []walkedEntry
	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, errors.Wrapf(err, "archive: resolve %q", target)
		}
		info, err := os.Lstat(abs)
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%q", target)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "archive: stat %q", target)
		}

		base := filepath.Base(filepath.Clean(abs))
		if !info.IsDir() {
			out = append(out, walkedEntry{
				entry:  entryFromInfo(base, info, KindFile),
				fsPath: abs,
				size:   info.Size(),
			})
			continue
		}

		out = append(out, walkedEntry{entry: entryFromInfo(base, info, KindDir), fsPath: abs})
		children, err := walkDir(abs, base)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func walkDir(dir, arcPrefix string) ([]walkedEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "archive: read dir %q", dir)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })

	var out []walkedEntry
	for _, item := range items {
		fsPath := filepath.Join(dir, item.Name())
		arcPath := arcPrefix + "/" + item.Name()
		info, err := item.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "archive: stat %q", fsPath)
		}
		if item.IsDir() {
			out = append(out, walkedEntry{entry: entryFromInfo(arcPath, info, KindDir), fsPath: fsPath})
			children, err := walkDir(fsPath, arcPath)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		out = append(out, walkedEntry{
			entry:  entryFromInfo(arcPath, info, KindFile),
			fsPath: fsPath,
			size:   info.Size(),
		})
	}
	return out, nil
}

func entryFromInfo(arcPath string, info os.FileInfo, kind Kind) Entry {
	e := Entry{
		Path: arcPath,
		Kind: kind,
		Mode: info.Mode().Perm(),
		UID:  unknownID,
		GID:  unknownID,
	}
	if st, ok := statOwner(info); ok {
		e.UID, e.GID = st.uid, st.gid
	}
	return e
}

// safeJoin resolves an archive-stored POSIX path against destRoot and
// rejects any result that would escape it, defending against archives
// crafted with ../ path-traversal segments.
func safeJoin(destRoot, arcPath string) (string, error) {
	destAbs, err := filepath.Abs(destRoot)
	if err != nil {
		return "", errors.Wrap(err, "archive: resolve destination root")
	}
	native := filepath.FromSlash(arcPath)
	candidate := filepath.Join(destAbs, native)
	rel, err := filepath.Rel(destAbs, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrUnsafePath, "%q", arcPath)
	}
	return candidate, nil
}

func writeHeader(w io.Writer, count int) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := writeUint8(w, Version2); err != nil {
		return err
	}
	return writeUint32(w, uint32(count))
}

func writeEntryHeader(w io.Writer, e Entry) error {
	pathBytes := []byte(e.Path)
	if err := writeUint32(w, uint32(len(pathBytes))); err != nil {
		return err
	}
	if _, err := w.Write(pathBytes); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(e.Kind)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(e.Mode.Perm())); err != nil {
		return err
	}
	if err := writeUint32(w, e.UID); err != nil {
		return err
	}
	return writeUint32(w, e.GID)
}

func readEntryHeader(r io.Reader, version uint8) (Entry, error) {
	plen, err := readUint32(r)
	if err != nil {
		return Entry{}, err
	}
	pathBytes := make([]byte, plen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return Entry{}, err
	}
	kindByte, err := readUint8(r)
	if err != nil {
		return Entry{}, err
	}
	kind := Kind(kindByte)

	var mode os.FileMode
	uid, gid := uint32(unknownID), uint32(unknownID)
	if version >= Version2 {
		m, err := readUint32(r)
		if err != nil {
			return Entry{}, err
		}
		mode = os.FileMode(m)
		if uid, err = readUint32(r); err != nil {
			return Entry{}, err
		}
		if gid, err = readUint32(r); err != nil {
			return Entry{}, err
		}
	} else if kind == KindDir {
		mode = 0o755
	} else {
		mode = 0o644
	}

	return Entry{Path: string(pathBytes), Kind: kind, Mode: mode, UID: uid, GID: gid}, nil
}

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
