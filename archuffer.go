/*
Package archuffer implements the compression core of a file-archiving tool:
an LZ77 + canonical-Huffman codec that processes one input buffer at a time.

Compress and Decompress operate on whole byte buffers; there is no
streaming or incremental decode. Writer and Reader are thin io.Writer/
io.Reader convenience wrappers around the same whole-buffer call, in the
spirit of the teacher's own NewWriter/NewReader pair: writes accumulate in
memory and the actual compression happens once, at Close.

For example, to compress a buffer:

	out, err := archuffer.Compress(data, nil)

Or through the io wrapper:

	var b bytes.Buffer
	w := archuffer.NewWriter(&b)
	w.Write(data)
	w.Close()
*/
package archuffer

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lmoreau/archuffer/bitio"
	"github.com/lmoreau/archuffer/huffman"
	"github.com/lmoreau/archuffer/lz77"
)

// Version is the current per-blob wire format version.
const Version = 1

var (
	// ErrBadVersion is returned when a blob's version byte does not match
	// Version.
	ErrBadVersion = errors.New("archuffer: unsupported blob version")
)

// ProgressFunc is an optional, informational progress callback. On
// Compress, done reflects input bytes processed; on Decompress, done
// reflects output bytes produced so far. Any panic raised by a
// ProgressFunc is recovered and discarded — it must never abort the
// codec.
type ProgressFunc func(done, total int)

func (f ProgressFunc) call(done, total int) {
	if f == nil {
		return
	}
	defer func() { _ = recover() }()
	f(done, total)
}

// Compress encodes data with LZ77 + canonical Huffman coding and returns
// the compressed blob described in the per-blob wire layout. An empty
// input produces the 5-byte empty-blob header.
func Compress(data []byte, onProgress ProgressFunc) ([]byte, error) {
	if len(data) == 0 {
		return []byte{Version, 0, 0, 0, 0}, nil
	}

	compressor := lz77.NewCompressor()
	tokens, freq := compressor.Compress(data, func(done, total int) {
		onProgress.call(done, total)
	})

	book := huffman.Build(&freq)

	w := bitio.NewWriter()
	w.WriteBits(uint32(Version), 8)
	w.WriteBits(uint32(len(data)), 32)

	metadata := book.SaveMetadata()
	w.WriteBits(uint32(len(metadata)), 16)
	w.WriteBytes(metadata)

	for _, tok := range tokens {
		var symbol uint16
		if tok.IsMatch {
			symbol = uint16(256 + (tok.Length - lz77.MinMatch))
		} else {
			symbol = uint16(tok.Literal)
		}
		code, length := book.EncodeSymbol(symbol)
		w.WriteBits(code, uint(length))
		if tok.IsMatch {
			w.WriteBits(tok.Distance-1, 15)
		}
	}

	onProgress.call(len(data), len(data))
	return w.Finish(), nil
}

// Decompress reverses Compress, returning the exact original bytes.
func Decompress(blob []byte, onProgress ProgressFunc) ([]byte, error) {
	r := bitio.NewReader(blob)

	version, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, ErrBadVersion
	}

	origSize, err := r.ReadBits(32)
	if err != nil {
		return nil, err
	}
	if origSize == 0 {
		return []byte{}, nil
	}

	metaLen, err := r.ReadBits(16)
	if err != nil {
		return nil, err
	}
	metadata, err := r.ReadBytes(int(metaLen))
	if err != nil {
		return nil, err
	}
	book, _, err := huffman.LoadMetadata(metadata)
	if err != nil {
		return nil, err
	}

	var tokens []lz77.Token
	var outputLen uint32
	for outputLen < origSize {
		symbol, err := book.DecodeSymbol(r)
		if err != nil {
			return nil, err
		}
		if symbol < 256 {
			tokens = append(tokens, lz77.Token{Literal: byte(symbol)})
			outputLen++
		} else {
			dist, err := r.ReadBits(15)
			if err != nil {
				return nil, err
			}
			length := uint32(symbol-256) + lz77.MinMatch
			tokens = append(tokens, lz77.Token{IsMatch: true, Distance: dist + 1, Length: length})
			outputLen += length
		}
		done := outputLen
		if done > origSize {
			done = origSize
		}
		onProgress.call(int(done), int(origSize))
	}

	return lz77.Decompress(tokens)
}

// Writer buffers writes and compresses the whole accumulated buffer on
// Close, writing the result to the underlying io.Writer.
type Writer struct {
	w    io.Writer
	data []byte
}

// NewWriter returns a Writer whose compressed output is written to w on
// Close.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends p to the internal buffer. The data is not compressed or
// written to the underlying writer until Close.
func (w *Writer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

// Close compresses the buffered data and writes it to the underlying
// io.Writer.
func (w *Writer) Close() error {
	out, err := Compress(w.data, nil)
	if err != nil {
		return errors.Wrap(err, "archuffer: compress")
	}
	_, err = w.w.Write(out)
	return err
}

type reader struct {
	data []byte
	pos  int
}

// NewReader reads all of r eagerly, decompresses it, and returns an
// io.ReadCloser serving the decompressed bytes.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "archuffer: read blob")
	}
	data, err := Decompress(blob, nil)
	if err != nil {
		return nil, err
	}
	return &reader{data: data}, nil
}

func (r *reader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *reader) Close() error { return nil }
