// Package batch implements multi-select over gallery items and the bounded
// bulk-delete flow.
package batch

import "sync"

type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box in screen coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

func (r Rect) Intersects(o Rect) bool {
	return !(r.Right < o.Left || r.Left > o.Right || r.Bottom < o.Top || r.Top > o.Bottom)
}

func rectFromPoints(a, b Point) Rect {
	r := Rect{Left: a.X, Right: b.X, Top: a.Y, Bottom: b.Y}
	if r.Left > r.Right {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Top > r.Bottom {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

// Selection tracks an ordered, duplicate-free set of selected item ids. The
// order is the selection sequence, which drives the 1-based index badges.
type Selection struct {
	mu        sync.Mutex
	batchMode bool
	order     []int64
	selected  map[int64]struct{}
	bounds    map[int64]Rect
	drag      *Point
}

func NewSelection() *Selection {
	return &Selection{
		selected: make(map[int64]struct{}),
		bounds:   make(map[int64]Rect),
	}
}

// SetBatchMode toggles multi-select mode. Leaving it clears the selection.
func (s *Selection) SetBatchMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchMode && !on {
		s.clearLocked()
	}
	s.batchMode = on
}

func (s *Selection) BatchMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchMode
}

func (s *Selection) Toggle(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; ok {
		s.deselectLocked(id)
		return
	}
	s.selectLocked(id)
}

func (s *Selection) Select(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectLocked(id)
}

func (s *Selection) Deselect(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deselectLocked(id)
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Selection) selectLocked(id int64) {
	if _, ok := s.selected[id]; ok {
		return
	}
	s.selected[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *Selection) deselectLocked(id int64) {
	if _, ok := s.selected[id]; !ok {
		return
	}
	delete(s.selected, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Selection) clearLocked() {
	s.order = s.order[:0]
	clear(s.selected)
	s.drag = nil
}

// Selected returns the selected ids in selection order.
func (s *Selection) Selected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.order))
	copy(out, s.order)
	return out
}

// Index returns the 1-based selection position of id, or 0 when unselected.
func (s *Selection) Index(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.order {
		if v == id {
			return i + 1
		}
	}
	return 0
}

func (s *Selection) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// RegisterBounds records an item's on-screen box for drag selection. Items
// scrolled out of the view should be unregistered.
func (s *Selection) RegisterBounds(id int64, bounds Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds[id] = bounds
}

func (s *Selection) UnregisterBounds(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bounds, id)
}

// StartDrag begins rectangular drag selection at origin. When the drag
// starts on an item, that item is selected immediately.
func (s *Selection) StartDrag(origin Point, originID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drag = &origin
	if originID != 0 {
		s.selectLocked(originID)
	}
}

// UpdateDrag extends the selection with every registered item whose bounds
// intersect the box spanned from the drag origin to current. Drag selection
// is additive; shrinking the box never deselects.
func (s *Selection) UpdateDrag(current Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return
	}
	box := rectFromPoints(*s.drag, current)
	for id, bounds := range s.bounds {
		if box.Intersects(bounds) {
			s.selectLocked(id)
		}
	}
}

func (s *Selection) EndDrag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drag = nil
}
