// Package huffman implements a canonical Huffman coder over a dense
// alphabet of up to 512 symbols (256 literals plus 256 length codes).
//
// A CodeBook is built once from a symbol frequency table, serialized as a
// compact length-only table, and later reconstructed from that table alone
// — canonical code assignment is fully determined by the code lengths, not
// by the merge order used to derive them.
package huffman

import (
	"container/heap"
	"errors"

	"github.com/lmoreau/archuffer/bitio"
)

// NumSymbols is the size of the merged literal/length alphabet.
const NumSymbols = 512

// maxCodeLength is the deepest the canonical assignment is allowed to
// produce, and the number of bits the decoder probes before giving up.
const maxCodeLength = 25

// ErrInvalidCode is returned when no Huffman code matches within the
// maxCodeLength-bit probe window.
var ErrInvalidCode = errors.New("huffman: invalid code")

// CodeBook holds the canonical code assigned to each observed symbol.
type CodeBook struct {
	lengths [NumSymbols]uint8
	codes   [NumSymbols]uint32
	symbols []uint16 // observed symbols, ascending

	decodeTable map[decodeKey]uint16
}

type decodeKey struct {
	code   uint32
	length uint8
}

// node is a merge-tree element. Children are indices into the node arena
// rather than pointers, so the arena can be discarded in one step once code
// lengths are extracted.
type node struct {
	symbol      uint16
	isLeaf      bool
	freq        uint64
	left, right int // arena indices, -1 if absent
}

// nodeHeap is a min-heap over arena indices into nodes, ordered by
// frequency with ties broken by insertion order (the decoder reconstructs
// codes from transmitted lengths, not merge order, so the tie rule is not
// part of the wire contract).
type nodeHeap struct {
	nodes []node
	order []int
}

func (h *nodeHeap) Len() int { return len(h.order) }
func (h *nodeHeap) Less(i, j int) bool {
	a, b := h.order[i], h.order[j]
	if h.nodes[a].freq != h.nodes[b].freq {
		return h.nodes[a].freq < h.nodes[b].freq
	}
	return a < b // arena indices grow in insertion order
}
func (h *nodeHeap) Swap(i, j int) { h.order[i], h.order[j] = h.order[j], h.order[i] }
func (h *nodeHeap) Push(x any)    { h.order = append(h.order, x.(int)) }
func (h *nodeHeap) Pop() any {
	old := h.order
	n := len(old)
	v := old[n-1]
	h.order = old[:n-1]
	return v
}

// Build constructs a canonical code book from a dense symbol frequency
// table. Symbols with zero frequency are not assigned a code. An empty
// table yields an empty CodeBook.
func Build(freq *[NumSymbols]uint32) *CodeBook {
	cb := &CodeBook{}

	var present []uint16
	for sym := 0; sym < NumSymbols; sym++ {
		if freq[sym] > 0 {
			present = append(present, uint16(sym))
		}
	}
	if len(present) == 0 {
		return cb
	}

	lengths := make(map[uint16]uint8, len(present))
	if len(present) == 1 {
		lengths[present[0]] = 1
	} else {
		arena := make([]node, 0, 2*len(present))
		order := make([]int, 0, len(present))
		for _, sym := range present {
			arena = append(arena, node{symbol: sym, isLeaf: true, freq: uint64(freq[sym]), left: -1, right: -1})
			order = append(order, len(arena)-1)
		}
		h := &nodeHeap{nodes: arena, order: order}
		heap.Init(h)

		for h.Len() > 1 {
			li := heap.Pop(h).(int)
			ri := heap.Pop(h).(int)
			arena = append(arena, node{
				freq:  arena[li].freq + arena[ri].freq,
				left:  li,
				right: ri,
			})
			h.nodes = arena
			heap.Push(h, len(arena)-1)
		}

		rootIdx := h.order[0]
		depthWalk(arena, rootIdx, 0, lengths)
	}

	for sym, l := range lengths {
		cb.lengths[sym] = l
	}
	cb.generateCanonicalCodes()
	return cb
}

func depthWalk(arena []node, idx int, depth uint8, lengths map[uint16]uint8) {
	n := &arena[idx]
	if n.isLeaf {
		d := depth
		if d < 1 {
			d = 1
		}
		lengths[n.symbol] = d
		return
	}
	depthWalk(arena, n.left, depth+1, lengths)
	depthWalk(arena, n.right, depth+1, lengths)
}

// generateCanonicalCodes assigns codes from cb.lengths per the canonical
// rule: sort by (length, symbol), start code at 0 for the first (shortest)
// symbol, increment within a length, left-shift by the length delta on a
// length change.
func (cb *CodeBook) generateCanonicalCodes() {
	cb.symbols = cb.symbols[:0]
	for sym := 0; sym < NumSymbols; sym++ {
		if cb.lengths[sym] > 0 {
			cb.symbols = append(cb.symbols, uint16(sym))
		}
	}
	// cb.symbols stays ascending by symbol value; assignment order below is
	// a separate copy sorted by (length, symbol).
	order := append([]uint16(nil), cb.symbols...)
	sortByLengthThenSymbol(order, cb.lengths[:])

	var code uint32
	var prevLen uint8
	for _, sym := range order {
		length := cb.lengths[sym]
		code <<= uint(length - prevLen)
		cb.codes[sym] = code
		code++
		prevLen = length
	}

	cb.decodeTable = make(map[decodeKey]uint16, len(order))
	for _, sym := range order {
		cb.decodeTable[decodeKey{cb.codes[sym], cb.lengths[sym]}] = sym
	}
}

// sortByLengthThenSymbol performs a stable insertion sort — the symbol
// lists involved are at most NumSymbols long, so the simple approach is
// plenty fast and keeps the ordering obviously correct.
func sortByLengthThenSymbol(symbols []uint16, lengths []uint8) {
	for i := 1; i < len(symbols); i++ {
		for j := i; j > 0; j-- {
			a, b := symbols[j-1], symbols[j]
			if lengths[a] < lengths[b] || (lengths[a] == lengths[b] && a <= b) {
				break
			}
			symbols[j-1], symbols[j] = symbols[j], symbols[j-1]
		}
	}
}

// EncodeSymbol returns the canonical code and bit length for symbol. An
// unknown symbol (one with no assigned code) is not expected during normal
// operation; callers that can guarantee symbols always come from the same
// frequency table used to Build should never hit this path.
func (cb *CodeBook) EncodeSymbol(symbol uint16) (code uint32, length uint8) {
	if cb.lengths[symbol] == 0 {
		return 0, 1
	}
	return cb.codes[symbol], cb.lengths[symbol]
}

// DecodeSymbol reads bits one at a time from r, probing code lengths 1
// through 25, and returns the first matching symbol.
func (cb *CodeBook) DecodeSymbol(r *bitio.Reader) (uint16, error) {
	var code uint32
	for length := uint8(1); length <= maxCodeLength; length++ {
		bit, err := r.ReadBits(1)
		if err != nil {
			return 0, err
		}
		code = (code << 1) | bit
		if sym, ok := cb.decodeTable[decodeKey{code, length}]; ok {
			return sym, nil
		}
	}
	return 0, ErrInvalidCode
}

// SaveMetadata serializes the code-lengths table: 16 bits symbol count,
// then for each symbol (ascending) 9 bits symbol value followed by 5 bits
// length.
func (cb *CodeBook) SaveMetadata() []byte {
	w := bitio.NewWriter()
	w.WriteBits(uint32(len(cb.symbols)), 16)
	for _, sym := range cb.symbols { // already ascending by symbol value
		w.WriteBits(uint32(sym), 9)
		w.WriteBits(uint32(cb.lengths[sym]), 5)
	}
	return w.Finish()
}

// LoadMetadata reads a table written by SaveMetadata, reconstructs the
// canonical codes via the same procedure Build uses once lengths are known,
// and returns the number of bytes consumed.
func LoadMetadata(data []byte) (*CodeBook, int, error) {
	r := bitio.NewReader(data)
	count, err := r.ReadBits(16)
	if err != nil {
		return nil, 0, err
	}
	cb := &CodeBook{}
	for i := uint32(0); i < count; i++ {
		sym, err := r.ReadBits(9)
		if err != nil {
			return nil, 0, err
		}
		length, err := r.ReadBits(5)
		if err != nil {
			return nil, 0, err
		}
		cb.lengths[sym] = uint8(length)
	}
	cb.generateCanonicalCodes()
	return cb, r.Position(), nil
}

// Symbols returns the sorted set of symbols with an assigned code.
func (cb *CodeBook) Symbols() []uint16 {
	return cb.symbols
}

// Len reports the length in bits assigned to symbol, or 0 if unassigned.
func (cb *CodeBook) Len(symbol uint16) uint8 {
	return cb.lengths[symbol]
}
