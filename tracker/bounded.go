package tracker

// boundedSet is an insertion-ordered string set with a hard cap. When the
// cap is exceeded the oldest insertion falls off silently, so a scanning
// attacker cannot grow a single IP's footprint without bound.
type boundedSet struct {
	cap    int
	order  []string
	member map[string]struct{}
}

func newBoundedSet(cap int) *boundedSet {
	return &boundedSet{cap: cap, member: make(map[string]struct{})}
}

// Add inserts v unless empty or already present, evicting the oldest entry
// when over cap.
func (s *boundedSet) Add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.member[v]; ok {
		return
	}
	s.order = append(s.order, v)
	s.member[v] = struct{}{}
	for len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.member, oldest)
	}
}

// Remove deletes v if present.
func (s *boundedSet) Remove(v string) {
	if _, ok := s.member[v]; !ok {
		return
	}
	delete(s.member, v)
	for i, o := range s.order {
		if o == v {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *boundedSet) Contains(v string) bool {
	_, ok := s.member[v]
	return ok
}

func (s *boundedSet) Len() int { return len(s.order) }

// Values returns an insertion-ordered copy.
func (s *boundedSet) Values() []string {
	return append([]string(nil), s.order...)
}

// eventRing is a fixed-capacity circular buffer of access events; the
// oldest event is overwritten on overflow.
type eventRing struct {
	buf  []AccessEvent
	next int
	size int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]AccessEvent, capacity)}
}

func (r *eventRing) Append(e AccessEvent) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *eventRing) Len() int { return r.size }

// Events returns the buffered events oldest-first.
func (r *eventRing) Events() []AccessEvent {
	out := make([]AccessEvent, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Count applies match over the buffer and returns the number of hits.
func (r *eventRing) Count(match func(AccessEvent) bool) int {
	n := 0
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		if match(r.buf[(start+i)%len(r.buf)]) {
			n++
		}
	}
	return n
}

// Filter returns up to limit matching events, newest-first.
func (r *eventRing) Filter(match func(AccessEvent) bool, limit int) []AccessEvent {
	out := make([]AccessEvent, 0, limit)
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := r.size - 1; i >= 0 && len(out) < limit; i-- {
		e := r.buf[(start+i)%len(r.buf)]
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

// DropBefore discards events with a timestamp before cutoff and returns
// how many were dropped.
func (r *eventRing) DropBefore(cutoff func(AccessEvent) bool) int {
	kept := make([]AccessEvent, 0, r.size)
	for _, e := range r.Events() {
		if !cutoff(e) {
			kept = append(kept, e)
		}
	}
	dropped := r.size - len(kept)
	r.next, r.size = 0, 0
	for _, e := range kept {
		r.Append(e)
	}
	return dropped
}
