package asanrt

import (
	"fmt"
	"sort"
)

// ChunkKind is the storage class of an allocation.
type ChunkKind int

// Storage classes.
const (
	HeapChunk ChunkKind = iota
	StackChunk
	GlobalChunk
)

func (k ChunkKind) String() string {
	switch k {
	case StackChunk:
		return "stack"
	case GlobalChunk:
		return "global"
	}
	return "heap"
}

// Chunk is one allocated object.
type Chunk struct {
	Kind  ChunkKind
	Begin uint64
	Size  uint64
	Name  string
	Freed bool
}

// End returns the address one past the object.
func (c *Chunk) End() uint64 { return c.Begin + c.Size }

type frame struct {
	top    uint64
	chunks []*Chunk
}

// allocate places size bytes at top followed by a redzone poisoned with
// magic, and returns the object address and the new top. The redzone also
// serves as the left redzone of the next object.
func (r *Runtime) allocate(top, size uint64, magic byte) (uint64, uint64) {
	addr := top
	r.Unpoison(addr, size)
	end := r.roundUp(addr + size)
	if end == addr {
		end = addr + r.granularity()
		r.Poison(addr, r.granularity(), magic)
	}
	r.Poison(end, r.rz, magic)
	return addr, end + r.rz
}

func (r *Runtime) addChunk(c *Chunk) {
	i := sort.Search(len(r.chunks), func(i int) bool { return r.chunks[i].Begin > c.Begin })
	r.chunks = append(r.chunks, nil)
	copy(r.chunks[i+1:], r.chunks[i:])
	r.chunks[i] = c
}

// FindChunk returns the heap or global object whose extended range
// (object plus right redzone) contains addr, or the object left of addr.
func (r *Runtime) FindChunk(addr uint64) *Chunk {
	i := sort.Search(len(r.chunks), func(i int) bool { return r.chunks[i].Begin > addr })
	if i > 0 {
		return r.chunks[i-1]
	}
	if len(r.chunks) > 0 {
		return r.chunks[0]
	}
	return nil
}

// Malloc allocates size bytes on the heap.
func (r *Runtime) Malloc(size uint64) uint64 {
	if r.heapTop == HeapBase+r.rz {
		r.Poison(HeapBase, r.rz, HeapLeftRedzoneMagic)
	}
	addr, top := r.allocate(r.heapTop, size, HeapLeftRedzoneMagic)
	r.heapTop = top
	r.addChunk(&Chunk{Kind: HeapChunk, Begin: addr, Size: size})
	return addr
}

// Free releases a heap object. Its memory is never reused so later
// accesses are reported as use after free.
func (r *Runtime) Free(addr uint64) error {
	if addr == 0 {
		return nil
	}
	c := r.FindChunk(addr)
	if c == nil || c.Kind != HeapChunk || c.Begin != addr {
		return r.reportBug("bad-free", addr, 0, false)
	}
	if c.Freed {
		return r.reportBug("double-free", addr, 0, false)
	}
	c.Freed = true
	size := r.roundUp(c.Size)
	if size == 0 {
		size = r.granularity()
	}
	r.Poison(addr, size, HeapFreeMagic)
	return nil
}

// DefineGlobal allocates a global of size bytes holding init, followed by a
// redzone.
func (r *Runtime) DefineGlobal(name string, size uint64, init []byte) uint64 {
	if r.globalTop == GlobalBase+r.rz {
		r.Poison(GlobalBase, r.rz, GlobalRedzoneMagic)
	}
	addr, top := r.allocate(r.globalTop, size, GlobalRedzoneMagic)
	r.globalTop = top
	r.Mem.Write(addr, init)
	r.addChunk(&Chunk{Kind: GlobalChunk, Begin: addr, Size: size, Name: name})
	return addr
}

// PushFrame opens a stack frame.
func (r *Runtime) PushFrame() {
	if len(r.frames) == 0 {
		r.Poison(StackBase, r.rz, StackLeftRedzoneMagic)
	}
	r.frames = append(r.frames, &frame{top: r.stackTop})
}

// Alloca allocates size bytes in the innermost stack frame.
func (r *Runtime) Alloca(size uint64) (uint64, error) {
	if len(r.frames) == 0 {
		return 0, ErrNoFrame
	}
	f := r.frames[len(r.frames)-1]
	addr, top := r.allocate(r.stackTop, size, StackRightRedzoneMagic)
	r.stackTop = top
	f.chunks = append(f.chunks, &Chunk{Kind: StackChunk, Begin: addr, Size: size})
	return addr, nil
}

// PopFrame closes the innermost stack frame. Its objects are poisoned
// until the stack space is reused.
func (r *Runtime) PopFrame() error {
	if len(r.frames) == 0 {
		return ErrNoFrame
	}
	f := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]
	if r.stackTop > f.top {
		r.Poison(f.top, r.stackTop-f.top, StackAfterReturnMagic)
	}
	r.stackTop = f.top
	return nil
}

// stackChunk returns the live stack object containing addr, or nil.
func (r *Runtime) stackChunk(addr uint64) *Chunk {
	for _, f := range r.frames {
		for _, c := range f.chunks {
			if addr >= c.Begin && addr < r.roundUp(c.End())+r.rz {
				return c
			}
		}
	}
	return nil
}

// chunkOf returns the object addr belongs to for pointer pair checks.
func (r *Runtime) chunkOf(addr uint64) *Chunk {
	if c := r.stackChunk(addr); c != nil {
		return c
	}
	if c := r.FindChunk(addr); c != nil && addr >= c.Begin && addr <= c.End() {
		return c
	}
	return nil
}

// HandleNoReturn unpoisons the whole live stack, as a call that does not
// return may unwind frames without running their epilogues.
func (r *Runtime) HandleNoReturn() {
	if r.stackTop > StackBase {
		r.Unpoison(StackBase, r.stackTop-StackBase)
	}
}

// describe locates addr relative to the nearest known object.
func (r *Runtime) describe(addr uint64) string {
	c := r.stackChunk(addr)
	if c == nil {
		c = r.FindChunk(addr)
	}
	if c == nil {
		return ""
	}
	where := c.Kind.String() + " object"
	if c.Name != "" {
		where = fmt.Sprintf("global '%s'", c.Name)
	}
	switch {
	case addr < c.Begin:
		return fmt.Sprintf("%#x is located %d bytes to the left of %d-byte %s [%#x,%#x)", addr, c.Begin-addr, c.Size, where, c.Begin, c.End())
	case addr >= c.End():
		return fmt.Sprintf("%#x is located %d bytes to the right of %d-byte %s [%#x,%#x)", addr, addr-c.End(), c.Size, where, c.Begin, c.End())
	}
	return fmt.Sprintf("%#x is located %d bytes inside of %d-byte %s [%#x,%#x)", addr, addr-c.Begin, c.Size, where, c.Begin, c.End())
}
