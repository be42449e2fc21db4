package tracking

const defaultHistoryLimit = 500

// History is a fixed-capacity ring buffer of location samples, chronological
// as received, oldest-evicted. It replaces the unbounded trail a long-running
// session would otherwise accumulate.
type History struct {
	buf   []LocationSample
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryLimit
	}
	return &History{buf: make([]LocationSample, capacity)}
}

func (h *History) Append(s LocationSample) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Extend appends samples in order, dropping unrenderable ones.
func (h *History) Extend(samples []LocationSample) {
	for _, s := range samples {
		if s.Valid() {
			h.Append(s)
		}
	}
}

func (h *History) Len() int {
	return h.size
}

func (h *History) Last() (LocationSample, bool) {
	if h.size == 0 {
		return LocationSample{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Samples returns a chronological copy of the buffer contents.
func (h *History) Samples() []LocationSample {
	out := make([]LocationSample, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
