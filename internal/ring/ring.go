// Package ring implements a fixed-capacity, multi-slot circular byte buffer
// with three independent cursors: write, read and process.
//
// The writer fills the slot under the write cursor and rotates to the next
// slot when it is full. The reader drains slots in the same order. A
// secondary consumer (typically a streaming hash) can tap written bytes
// through the process cursor without removing them from the buffer, and the
// reader can be restricted to bytes that were already tapped.
//
// A Buffer is not safe for concurrent use. It is meant to be owned by exactly
// one goroutine for its whole lifetime and reused with Reset.
package ring

import "fmt"

// firstSlot is the slot the write cursor starts on. The read cursor starts
// one slot behind it, on a slot that never holds data until the writer wraps.
const firstSlot = 1

// Buffer is a circular buffer of N equally sized slots.
//
// Buffered bytes never exceed (N-1)*C: one slot's worth of capacity is always
// reserved for the slot the reader holds.
type Buffer struct {
	slots     [][]byte
	processed []bool
	slotSize  int
	writable  int

	writeIdx int
	filled   int

	readIdx int
	readOff int
	synced  bool

	procIdx int
	procOff int

	buffered int
	tapped   int
}

// New returns a buffer of slots slots, each slotSize bytes long.
// It panics if slots < 2 or slotSize < 1.
func New(slotSize, slots int) *Buffer {
	b := &Buffer{}
	b.SetSize(slotSize, slots)
	return b
}

// SetSize allocates the slot storage and resets every cursor. It panics if
// slots < 2 or slotSize < 1.
func (b *Buffer) SetSize(slotSize, slots int) {
	if slots < 2 {
		panic(fmt.Sprintf("ring: need at least 2 slots, got %d", slots))
	}
	if slotSize < 1 {
		panic(fmt.Sprintf("ring: slot size must be positive, got %d", slotSize))
	}

	b.slots = make([][]byte, slots)
	for i := range b.slots {
		b.slots[i] = make([]byte, slotSize)
	}
	b.processed = make([]bool, slots)
	b.slotSize = slotSize
	b.writable = (slots - 1) * slotSize
	b.Reset()
}

// Reset zeroes all cursors, counters and processed flags. Slot storage is
// kept so the buffer can serve the next file without reallocating.
func (b *Buffer) Reset() {
	b.mustBeSized()

	b.writeIdx = firstSlot
	b.filled = 0

	b.readIdx = 0
	b.readOff = b.slotSize
	b.synced = false

	b.procIdx = firstSlot
	b.procOff = 0

	b.buffered = 0
	b.tapped = 0
	clear(b.processed)
}

// Buffered returns the number of bytes written and not yet read.
func (b *Buffer) Buffered() int { return b.buffered }

// Available returns how many more bytes the buffer accepts before it is full.
func (b *Buffer) Available() int { return b.writable - b.buffered }

// Processed returns the number of buffered bytes that were tapped through the
// process cursor but not yet read.
func (b *Buffer) Processed() int { return b.tapped }

// SlotSize returns the capacity C of one slot.
func (b *Buffer) SlotSize() int { return b.slotSize }

// Slots returns the slot count N.
func (b *Buffer) Slots() int { return len(b.slots) }

// Capacity returns N*C, the total storage held by the buffer.
func (b *Buffer) Capacity() int { return len(b.slots) * b.slotSize }

// WriteIndex returns the slot under the write cursor.
func (b *Buffer) WriteIndex() int { return b.writeIdx }

// ReadIndex returns the slot under the read cursor.
func (b *Buffer) ReadIndex() int { return b.readIdx }

// ProcessIndex returns the slot under the process cursor.
func (b *Buffer) ProcessIndex() int { return b.procIdx }

// SlotProcessed reports whether slot i was completely tapped since it last
// became the write target. It panics if i is out of range.
func (b *Buffer) SlotProcessed(i int) bool {
	b.mustBeSized()
	if i < 0 || i >= len(b.slots) {
		panic(fmt.Sprintf("ring: slot %d out of range [0,%d)", i, len(b.slots)))
	}
	return b.processed[i]
}

// Write copies p into the current write slot, starting at its fill offset,
// and returns the number of bytes accepted. At most one slot's remaining room
// is consumed per call. When the slot fills exactly the write cursor rotates.
// A short p leaves the slot partially filled and unrotated; the partial bytes
// are immediately readable.
//
// Write returns 0 when the buffer is full, unless force is set, in which case
// the oldest unread slot is dropped to make room.
func (b *Buffer) Write(p []byte, force bool) int {
	b.mustBeSized()
	if len(p) == 0 {
		return 0
	}
	if b.Available() == 0 {
		if !force {
			return 0
		}
		b.dropOldest()
	}

	n := copy(b.WritableView(), p)
	b.CommitWrite(n)
	return n
}

// WritableView returns the free part of the current write slot, capped by
// Available. The caller fills a prefix of it and reports the count with
// CommitWrite. The view is nil when the buffer is full.
func (b *Buffer) WritableView() []byte {
	b.mustBeSized()
	room := min(b.slotSize-b.filled, b.Available())
	if room <= 0 {
		return nil
	}
	end := b.filled + room
	return b.slots[b.writeIdx][b.filled:end:end]
}

// CommitWrite records n bytes written into the view returned by
// WritableView. It panics if n exceeds that view.
func (b *Buffer) CommitWrite(n int) {
	b.mustBeSized()
	room := min(b.slotSize-b.filled, b.Available())
	if n < 0 || n > room {
		panic(fmt.Sprintf("ring: commit of %d bytes exceeds writable room %d", n, room))
	}
	b.filled += n
	b.buffered += n
	if b.filled == b.slotSize {
		b.rotateWrite()
	}
}

// Read copies up to one slot's worth of buffered bytes into p and returns
// the count. A p shorter than the slot performs a partial read; the rest of
// the slot is returned by later calls.
func (b *Buffer) Read(p []byte) int {
	view := b.ReadableView(len(p))
	n := copy(p, view)
	b.CommitRead(n)
	return n
}

// ReadableView returns up to limit unread bytes from the slot under the read
// cursor. The caller consumes a prefix of it and reports the count with
// CommitRead.
//
// The first call after construction or Reset moves the read cursor onto the
// first slot the writer filled.
func (b *Buffer) ReadableView(limit int) []byte {
	b.mustBeSized()
	b.sync()

	limit = min(limit, b.buffered)
	if limit <= 0 {
		return nil
	}
	if b.readOff == b.slotSize {
		b.rotateRead()
	}
	end := min(b.readEnd(), b.readOff+limit)
	return b.slots[b.readIdx][b.readOff:end:end]
}

// CommitRead releases n bytes from the view returned by ReadableView. Tapped
// bytes are released first; if the reader overtakes the process cursor, the
// process cursor is moved along with it.
func (b *Buffer) CommitRead(n int) {
	b.mustBeSized()
	if n == 0 {
		return
	}
	if n < 0 || n > b.buffered || b.readOff+n > b.readEnd() {
		panic(fmt.Sprintf("ring: commit of %d bytes exceeds readable data", n))
	}
	b.readOff += n
	b.buffered -= n

	if b.tapped >= n {
		b.tapped -= n
		return
	}
	b.tapped = 0
	b.procIdx, b.procOff = b.readIdx, b.readOff
}

// Unprocessed returns the written bytes under the process cursor that were
// not tapped yet, limited to the current slot.
func (b *Buffer) Unprocessed() []byte {
	b.mustBeSized()
	untapped := b.buffered - b.tapped
	if untapped <= 0 {
		return nil
	}
	if b.procOff == b.slotSize {
		b.rotateProcess()
	}
	end := b.slotSize
	if b.procIdx == b.writeIdx {
		end = b.filled
	}
	end = min(end, b.procOff+untapped)
	return b.slots[b.procIdx][b.procOff:end:end]
}

// MarkProcessed advances the process cursor by n bytes, clamped to the bytes
// Unprocessed would return, and reports how far it moved. A slot is flagged
// processed once the cursor reaches its end.
func (b *Buffer) MarkProcessed(n int) int {
	n = min(n, len(b.Unprocessed()))
	if n <= 0 {
		return 0
	}
	b.procOff += n
	b.tapped += n
	if b.procOff == b.slotSize {
		b.processed[b.procIdx] = true
	}
	return n
}

// readEnd is the end offset of readable data in the read slot.
func (b *Buffer) readEnd() int {
	if b.readIdx == b.writeIdx {
		return b.filled
	}
	return b.slotSize
}

// sync moves the read cursor off its initial slot, once per Reset.
func (b *Buffer) sync() {
	if b.synced {
		return
	}
	b.readIdx = firstSlot
	b.readOff = 0
	b.synced = true
}

// dropOldest discards the rest of the oldest unread slot.
func (b *Buffer) dropOldest() {
	b.CommitRead(len(b.ReadableView(b.slotSize)))
}

func (b *Buffer) rotateWrite() {
	b.writeIdx = b.next(b.writeIdx)
	b.filled = 0
	b.processed[b.writeIdx] = false
}

func (b *Buffer) rotateRead() {
	b.readIdx = b.next(b.readIdx)
	b.readOff = 0
}

func (b *Buffer) rotateProcess() {
	b.procIdx = b.next(b.procIdx)
	b.procOff = 0
}

func (b *Buffer) next(i int) int {
	if i++; i == len(b.slots) {
		return 0
	}
	return i
}

func (b *Buffer) mustBeSized() {
	if b.slots == nil {
		panic("ring: buffer used before sizing")
	}
}
