package jobs

// ref addresses an arena slot. It goes stale once the slot's generation moves
// on, which is how late completions for cancelled or purged jobs are detected.
type ref struct {
	index int
	gen   uint64
}

type slot[T any] struct {
	gen  uint64
	live bool
	id   string
	val  T
}

// arena stores values in reusable slots looked up by id. Callers serialize access.
type arena[T any] struct {
	slots []slot[T]
	free  []int
	ids   map[string]ref
}

func newArena[T any]() *arena[T] {
	return &arena[T]{ids: make(map[string]ref)}
}

func (a *arena[T]) insert(id string, v T) ref {
	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = len(a.slots) - 1
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.id = id
	s.val = v
	r := ref{index: idx, gen: s.gen}
	a.ids[id] = r
	return r
}

func (a *arena[T]) lookup(id string) (ref, bool) {
	r, ok := a.ids[id]
	return r, ok
}

// get returns the value only while r is current.
func (a *arena[T]) get(r ref) (T, bool) {
	var zero T
	if r.index < 0 || r.index >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[r.index]
	if !s.live || s.gen != r.gen {
		return zero, false
	}
	return s.val, true
}

// bump invalidates outstanding refs to the slot while keeping it live.
func (a *arena[T]) bump(r ref) (ref, bool) {
	if _, ok := a.get(r); !ok {
		return ref{}, false
	}
	s := &a.slots[r.index]
	s.gen++
	nr := ref{index: r.index, gen: s.gen}
	a.ids[s.id] = nr
	return nr, true
}

// remove frees the slot if r is current.
func (a *arena[T]) remove(r ref) bool {
	if _, ok := a.get(r); !ok {
		return false
	}
	s := &a.slots[r.index]
	delete(a.ids, s.id)
	var zero T
	s.val = zero
	s.live = false
	s.id = ""
	s.gen++
	a.free = append(a.free, r.index)
	return true
}

func (a *arena[T]) len() int {
	return len(a.ids)
}

// each visits live slots in slot order.
func (a *arena[T]) each(fn func(r ref, v T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(ref{index: i, gen: s.gen}, s.val)
		}
	}
}
