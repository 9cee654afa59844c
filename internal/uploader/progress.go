package uploader

import "sync"

// Stage labels the pipeline phase a batch is in.
type Stage string

const (
	StageIdle     Stage = "idle"
	StageCompress Stage = "compress"
	StageUpload   Stage = "upload"
	StageSave     Stage = "save"
)

// Progress is one point-in-time snapshot. Total can grow mid-batch: the save
// step count is only known once the upload stage has finished.
type Progress struct {
	Stage     Stage
	Completed int
	Total     int
}

// ProgressFunc receives progress snapshots. It is called from worker
// goroutines and must be safe for concurrent use by the caller.
type ProgressFunc func(Progress)

type tracker struct {
	mu  sync.Mutex
	fn  ProgressFunc
	cur Progress
}

func newTracker(fn ProgressFunc) *tracker {
	return &tracker{fn: fn, cur: Progress{Stage: StageIdle}}
}

func (t *tracker) setStage(stage Stage) {
	t.mu.Lock()
	t.cur.Stage = stage
	snap := t.cur
	t.mu.Unlock()
	t.emit(snap)
}

func (t *tracker) addTotal(n int) {
	t.mu.Lock()
	t.cur.Total += n
	snap := t.cur
	t.mu.Unlock()
	t.emit(snap)
}

func (t *tracker) step() {
	t.mu.Lock()
	t.cur.Completed++
	snap := t.cur
	t.mu.Unlock()
	t.emit(snap)
}

func (t *tracker) emit(p Progress) {
	if t.fn != nil {
		t.fn(p)
	}
}
