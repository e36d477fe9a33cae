package switcher

// lineBuffer is a fixed-capacity FIFO of recent raw lines kept for
// diagnostics. Oldest entries are dropped first on overflow.
// Not safe for concurrent use; the caller must synchronize.
type lineBuffer struct {
	buf      []string
	capacity int
	head     int // next write position
	count    int
}

func newLineBuffer(capacity int) *lineBuffer {
	return &lineBuffer{
		buf:      make([]string, capacity),
		capacity: capacity,
	}
}

func (b *lineBuffer) push(line string) {
	b.buf[b.head] = line
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// recent returns up to n of the newest lines, oldest first.
func (b *lineBuffer) recent(n int) []string {
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]string, n)
	start := (b.head - n + b.capacity) % b.capacity
	for i := 0; i < n; i++ {
		result[i] = b.buf[(start+i)%b.capacity]
	}
	return result
}

func (b *lineBuffer) clear() {
	b.head = 0
	b.count = 0
}

func (b *lineBuffer) len() int {
	return b.count
}
