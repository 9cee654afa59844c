package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelection_OrderAndIndices(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.Select(5)
	sel.Select(2)

	assert.Equal(t, []int64{5, 2}, sel.Selected())
	assert.Equal(t, 1, sel.Index(5))
	assert.Equal(t, 2, sel.Index(2))
	assert.Equal(t, 0, sel.Index(99), "unselected items have no badge")

	sel.Toggle(5)
	assert.Equal(t, []int64{2}, sel.Selected())
	assert.Equal(t, 1, sel.Index(2), "indices compact after a deselect")
}

func TestSelection_SelectIsIdempotent(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.Select(7)
	sel.Select(7)
	sel.Toggle(3)

	assert.Equal(t, []int64{7, 3}, sel.Selected())
	assert.Equal(t, 2, sel.Count())
}

func TestSelection_LeavingBatchModeClears(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.SetBatchMode(true)
	sel.Select(1)
	sel.Select(2)

	sel.SetBatchMode(false)
	assert.False(t, sel.BatchMode())
	assert.Empty(t, sel.Selected())
}

func TestRect_Intersects(t *testing.T) {
	t.Parallel()

	a := Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}

	assert.True(t, a.Intersects(Rect{Left: 5, Top: 5, Right: 15, Bottom: 15}))
	assert.True(t, a.Intersects(Rect{Left: 10, Top: 0, Right: 20, Bottom: 10}), "touching edges intersect")
	assert.False(t, a.Intersects(Rect{Left: 11, Top: 0, Right: 20, Bottom: 10}))
	assert.False(t, a.Intersects(Rect{Left: 0, Top: 11, Right: 10, Bottom: 20}))
}

func TestSelection_DragSelectsIntersectingItems(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.RegisterBounds(1, Rect{Left: 0, Top: 0, Right: 10, Bottom: 10})
	sel.RegisterBounds(2, Rect{Left: 20, Top: 0, Right: 30, Bottom: 10})
	sel.RegisterBounds(3, Rect{Left: 100, Top: 100, Right: 110, Bottom: 110})

	sel.StartDrag(Point{X: 5, Y: 5}, 1)
	assert.Equal(t, []int64{1}, sel.Selected(), "drag origin item is selected immediately")

	sel.UpdateDrag(Point{X: 25, Y: 8})
	sel.EndDrag()

	assert.ElementsMatch(t, []int64{1, 2}, sel.Selected())
	assert.Equal(t, 0, sel.Index(3), "items outside the box stay unselected")
}

func TestSelection_DragIsAdditive(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.RegisterBounds(1, Rect{Left: 0, Top: 0, Right: 10, Bottom: 10})
	sel.RegisterBounds(2, Rect{Left: 20, Top: 0, Right: 30, Bottom: 10})

	sel.StartDrag(Point{X: 0, Y: 0}, 0)
	sel.UpdateDrag(Point{X: 35, Y: 10})
	sel.UpdateDrag(Point{X: 5, Y: 5})
	sel.EndDrag()

	assert.ElementsMatch(t, []int64{1, 2}, sel.Selected(), "shrinking the box never deselects")
}

func TestSelection_UpdateDragWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.RegisterBounds(1, Rect{Left: 0, Top: 0, Right: 10, Bottom: 10})
	sel.UpdateDrag(Point{X: 5, Y: 5})

	assert.Empty(t, sel.Selected())
}
