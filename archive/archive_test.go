package archive_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/lmoreau/archuffer/archive"
	"gotest.tools/v3/assert"
)

// craftEntry builds one ARH1 version-2 entry header for a directory, with
// mode 0o755 and unknown uid/gid as its metadata, matching the container's on-disk layout without going
// through Create. Used to exercise destination-path safety on hand-crafted
// input.
func craftEntry(arcPath string) []byte {
	var buf bytes.Buffer
	pathBytes := []byte(arcPath)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(pathBytes)))
	buf.Write(lenBuf[:])
	buf.Write(pathBytes)
	buf.WriteByte(1) // KindDir
	var meta [12]byte
	binary.LittleEndian.PutUint32(meta[0:4], 0o755)
	binary.LittleEndian.PutUint32(meta[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(meta[8:12], 0xFFFFFFFF)
	buf.Write(meta[:])
	return buf.Bytes()
}

func craftArchive(entries ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("ARH1")
	buf.WriteByte(2)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])
	for _, e := range entries {
		buf.Write(e)
	}
	return buf.Bytes()
}

func writeTree(t *testing.T, root string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello archive world, hello archive world"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("nested file contents"), 0o644))
}

func TestCreateExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))

	var buf bytes.Buffer
	stats, err := archive.Create(&buf, []string{filepath.Join(src, "payload")}, archive.CreateOptions{})
	assert.NilError(t, err)
	assert.Assert(t, stats.OriginalBytes > 0)

	dest := t.TempDir()
	err = archive.Extract(&buf, dest, archive.ExtractOptions{})
	assert.NilError(t, err)

	gotA, err := os.ReadFile(filepath.Join(dest, "payload", "a.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(gotA), "hello archive world, hello archive world")

	gotB, err := os.ReadFile(filepath.Join(dest, "payload", "sub", "b.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(gotB), "nested file contents")
}

func TestExtractRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("NOPE is not a container")
	err := archive.Extract(buf, t.TempDir(), archive.ExtractOptions{})
	assert.ErrorIs(t, err, archive.ErrBadMagic)
}

func TestCreateMissingTargetIsNotFound(t *testing.T) {
	var buf bytes.Buffer
	_, err := archive.Create(&buf, []string{filepath.Join(t.TempDir(), "nope")}, archive.CreateOptions{})
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	raw := craftArchive(craftEntry("../../etc/evil"))
	err := archive.Extract(bytes.NewReader(raw), t.TempDir(), archive.ExtractOptions{})
	assert.ErrorIs(t, err, archive.ErrUnsafePath)
}

func TestExtractProgressCallbackIsInvoked(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))

	var buf bytes.Buffer
	_, err := archive.Create(&buf, []string{filepath.Join(src, "payload")}, archive.CreateOptions{})
	assert.NilError(t, err)

	var calls int
	err = archive.Extract(&buf, t.TempDir(), archive.ExtractOptions{
		OnProgress: func(entryPath string, done, total int) { calls++ },
	})
	assert.NilError(t, err)
	assert.Assert(t, calls > 0)
}

// Guards against the OnProgress "total" resetting to each file's own size
// instead of staying pinned to the overall archive size, per ProgressFunc's
// documented contract.
func TestExtractProgressTotalIsOverallNotPerFile(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))

	var buf bytes.Buffer
	stats, err := archive.Create(&buf, []string{filepath.Join(src, "payload")}, archive.CreateOptions{})
	assert.NilError(t, err)

	var totals []int
	err = archive.Extract(&buf, t.TempDir(), archive.ExtractOptions{
		OnProgress: func(entryPath string, done, total int) { totals = append(totals, total) },
	})
	assert.NilError(t, err)
	assert.Assert(t, len(totals) > 0)
	for _, total := range totals {
		assert.Equal(t, total, int(stats.OriginalBytes))
	}
}

// Guards against MkdirAll/WriteFile's umask-masked permission bits standing
// in for a real chmod: an entry archived with 0o777 must come back as 0o777
// even under a restrictive process umask.
func TestExtractRestoresModeDespiteUmask(t *testing.T) {
	old := syscall.Umask(0o022)
	defer syscall.Umask(old)

	src := t.TempDir()
	filePath := filepath.Join(src, "payload.bin")
	assert.NilError(t, os.WriteFile(filePath, []byte("mode preserved"), 0o777))
	// os.WriteFile's requested mode is itself umask-masked; chmod it
	// directly so the fixture's on-disk mode is really 0o777 before Create
	// reads it back via Stat.
	assert.NilError(t, os.Chmod(filePath, 0o777))

	var buf bytes.Buffer
	_, err := archive.Create(&buf, []string{filePath}, archive.CreateOptions{})
	assert.NilError(t, err)

	dest := t.TempDir()
	assert.NilError(t, archive.Extract(&buf, dest, archive.ExtractOptions{}))

	info, err := os.Stat(filepath.Join(dest, "payload.bin"))
	assert.NilError(t, err)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o777))
}
