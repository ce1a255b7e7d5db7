package bus

import (
	"sync"

	"github.com/ardnew/mcubus/frame"
)

// ringSize is the recommended receive buffer size from the coprocessor
// packet layer.
const ringSize = 512

// lowWatermark gates ring compaction: the buffer is only reset to the
// start once fully drained and start has advanced past this point.
const lowWatermark = ringSize / 2

// receiver accumulates de-obfuscated wire bytes for one bus and detects
// complete frames within them.
//
// It is a simple forward-growing buffer, not a true circular buffer:
// once end reaches ringSize, Append can take no more bytes until the
// buffer is fully drained and compacted back to the start. This mirrors
// the coprocessor's own receive buffer, which never wraps either.
type receiver struct {
	mu    sync.Mutex
	buf   [ringSize]byte
	start int
	end   int
}

// Append de-obfuscates and stores as much of data as fits in the
// remaining ring space, returning the number of bytes actually stored.
// A return value less than len(data) means bytes were dropped.
func (r *receiver) Append(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := ringSize - r.end
	n := len(data)
	if n > room {
		n = room
	}
	if n <= 0 {
		return 0
	}

	copy(r.buf[r.end:], data[:n])
	frame.Deobfuscate(r.buf[r.end : r.end+n])
	r.end += n
	return n
}

func (r *receiver) empty() bool {
	return r.start == r.end
}

func (r *receiver) compact() {
	if r.start < lowWatermark {
		return
	}
	r.start = 0
	r.end = 0
}

func (r *receiver) consume(n int) {
	r.start += n
	if r.empty() {
		r.compact()
	}
}

// Detect scans the active window for the first checksum-verified frame,
// consumes it (including any leading garbage), and returns it. It
// returns ok=false if no complete frame is currently available.
func (r *receiver) Detect() (frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.buf[r.start:r.end]
	fr, consumed, ok := frame.Decode(window)
	if !ok {
		return frame.Frame{}, false
	}

	r.consume(consumed)
	return fr, true
}

// pending reports how many unconsumed bytes are currently buffered.
func (r *receiver) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.end - r.start
}
