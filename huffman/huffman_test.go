package huffman_test

import (
	"testing"

	"github.com/lmoreau/archuffer/bitio"
	"github.com/lmoreau/archuffer/huffman"
	"gotest.tools/v3/assert"
)

func freqOf(pairs map[uint16]uint32) *[huffman.NumSymbols]uint32 {
	var freq [huffman.NumSymbols]uint32
	for sym, f := range pairs {
		freq[sym] = f
	}
	return &freq
}

func TestBuildEmpty(t *testing.T) {
	cb := huffman.Build(freqOf(nil))
	assert.Equal(t, len(cb.Symbols()), 0)
}

func TestBuildSingleSymbolGetsLengthOne(t *testing.T) {
	cb := huffman.Build(freqOf(map[uint16]uint32{'A': 9}))
	code, length := cb.EncodeSymbol('A')
	assert.Equal(t, length, uint8(1))
	assert.Equal(t, code, uint32(0))
}

func TestCanonicalCodesAreContiguousAndPrefixFree(t *testing.T) {
	cb := huffman.Build(freqOf(map[uint16]uint32{'A': 5, 'B': 7, 'C': 2, 256: 3}))

	byLength := map[uint8][]uint32{}
	for _, sym := range cb.Symbols() {
		code, length := cb.EncodeSymbol(sym)
		assert.Assert(t, length > 0)
		byLength[length] = append(byLength[length], code)
	}
	for _, codes := range byLength {
		min, max := codes[0], codes[0]
		for _, c := range codes {
			if c < min {
				min = c
			}
			if c > max {
				max = c
			}
		}
		assert.Equal(t, max-min+1, uint32(len(codes)))
	}

	// No code is a prefix of another: every (code,length) pair decodes
	// cleanly back to its own symbol and nothing else.
	for _, sym := range cb.Symbols() {
		code, length := cb.EncodeSymbol(sym)
		w := bitio.NewWriter()
		w.WriteBits(code, uint(length))
		r := bitio.NewReader(w.Finish())
		decoded, err := cb.DecodeSymbol(r)
		assert.NilError(t, err)
		assert.Equal(t, decoded, sym)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	cb := huffman.Build(freqOf(map[uint16]uint32{'A': 5, 'B': 7, 'C': 2, 256: 3}))
	meta := cb.SaveMetadata()

	loaded, n, err := huffman.LoadMetadata(meta)
	assert.NilError(t, err)
	assert.Equal(t, n, len(meta))

	for _, sym := range cb.Symbols() {
		wantCode, wantLen := cb.EncodeSymbol(sym)
		gotCode, gotLen := loaded.EncodeSymbol(sym)
		assert.Equal(t, gotLen, wantLen)
		assert.Equal(t, gotCode, wantCode)
	}
}

func TestDecodeInvalidCode(t *testing.T) {
	cb := huffman.Build(freqOf(nil)) // empty code book: nothing ever matches
	r := bitio.NewReader(make([]byte, 8))
	_, err := cb.DecodeSymbol(r)
	assert.ErrorIs(t, err, huffman.ErrInvalidCode)
}

func TestDecodeTruncatedMidSymbol(t *testing.T) {
	cb := huffman.Build(freqOf(map[uint16]uint32{'A': 1, 'B': 1, 'C': 1, 'D': 1, 'E': 1}))
	// Five equal weights give codes of 2 and 3 bits; leaving a single '1'
	// bit in the stream starts a symbol that cannot be completed.
	r := bitio.NewReader([]byte{0xFF})
	_, err := r.ReadBits(7)
	assert.NilError(t, err)
	_, err = cb.DecodeSymbol(r)
	assert.ErrorIs(t, err, bitio.ErrTruncated)
}
