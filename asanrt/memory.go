// Package asanrt is a shadow memory runtime over a simulated address space.
// It allocates heap, stack and global objects surrounded by poisoned
// redzones and implements the checkers, reporters and wrappers called by
// instrumented code.
package asanrt // import "github.com/staywilliam/asanopt/asanrt"

import "encoding/binary"

const pageBits = 12

const pageSize = 1 << pageBits

// Memory is a sparse little endian byte addressable memory. Bytes never
// written read as zero.
type Memory struct {
	pages map[uint64]*[pageSize]byte
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[pageSize]byte)}
}

func (m *Memory) page(addr uint64, create bool) *[pageSize]byte {
	p := m.pages[addr>>pageBits]
	if p == nil && create {
		p = new([pageSize]byte)
		m.pages[addr>>pageBits] = p
	}
	return p
}

// Byte returns the byte at addr.
func (m *Memory) Byte(addr uint64) byte {
	if p := m.page(addr, false); p != nil {
		return p[addr&(pageSize-1)]
	}
	return 0
}

// SetByte writes the byte at addr.
func (m *Memory) SetByte(addr uint64, v byte) {
	m.page(addr, true)[addr&(pageSize-1)] = v
}

// Read copies n bytes starting at addr.
func (m *Memory) Read(addr uint64, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = m.Byte(addr + uint64(i))
	}
	return buf
}

// Write copies data to addr.
func (m *Memory) Write(addr uint64, data []byte) {
	for i, b := range data {
		m.SetByte(addr+uint64(i), b)
	}
}

// Fill sets n bytes starting at addr to v.
func (m *Memory) Fill(addr, n uint64, v byte) {
	for i := uint64(0); i < n; i++ {
		m.SetByte(addr+i, v)
	}
}

// Move copies n bytes from src to dst; the ranges may overlap.
func (m *Memory) Move(dst, src, n uint64) {
	m.Write(dst, m.Read(src, int(n)))
}

// Uint reads a size byte unsigned integer at addr. size is at most 8.
func (m *Memory) Uint(addr uint64, size int) uint64 {
	var buf [8]byte
	copy(buf[:], m.Read(addr, size))
	return binary.LittleEndian.Uint64(buf[:])
}

// SetUint writes the low size bytes of v at addr.
func (m *Memory) SetUint(addr uint64, size int, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	m.Write(addr, buf[:size])
}
