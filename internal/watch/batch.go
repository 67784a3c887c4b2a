package watch

import (
	"sort"
	"time"
)

// batch collects changed paths until no new change arrived for delay.
// It is owned by the Run goroutine and not safe for concurrent use.
type batch struct {
	delay time.Duration
	timer *time.Timer
	paths map[string]struct{}
}

func newBatch(delay time.Duration) *batch {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &batch{delay: delay, timer: t, paths: make(map[string]struct{})}
}

// add records p and restarts the quiet period.
func (b *batch) add(p string) {
	b.paths[p] = struct{}{}
	b.timer.Reset(b.delay)
}

// C fires once the quiet period after the last add has passed.
func (b *batch) C() <-chan time.Time {
	return b.timer.C
}

func (b *batch) len() int {
	return len(b.paths)
}

// drain returns the collected paths sorted and empties the batch.
func (b *batch) drain() []string {
	b.timer.Stop()
	out := make([]string, 0, len(b.paths))
	for p := range b.paths {
		out = append(out, p)
	}
	clear(b.paths)
	sort.Strings(out)
	return out
}
