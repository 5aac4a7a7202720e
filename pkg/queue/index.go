package queue

import (
	"container/heap"
	"time"

	"github.com/beam-cloud/synopsis/pkg/types"
)

type indexEntry struct {
	id      string
	rank    int
	addedAt time.Time
	pos     int
}

// priorityIndex orders idle items by priority, then by time in queue.
// Items being processed are not in the index.
type priorityIndex struct {
	entries []*indexEntry
	byId    map[string]*indexEntry
}

func newPriorityIndex() *priorityIndex {
	return &priorityIndex{byId: make(map[string]*indexEntry)}
}

func (p *priorityIndex) Len() int { return len(p.entries) }

func (p *priorityIndex) Less(i, j int) bool {
	a, b := p.entries[i], p.entries[j]
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	if !a.addedAt.Equal(b.addedAt) {
		return a.addedAt.Before(b.addedAt)
	}
	return a.id < b.id
}

func (p *priorityIndex) Swap(i, j int) {
	p.entries[i], p.entries[j] = p.entries[j], p.entries[i]
	p.entries[i].pos = i
	p.entries[j].pos = j
}

func (p *priorityIndex) Push(x any) {
	e := x.(*indexEntry)
	e.pos = len(p.entries)
	p.entries = append(p.entries, e)
}

func (p *priorityIndex) Pop() any {
	n := len(p.entries)
	e := p.entries[n-1]
	p.entries[n-1] = nil
	p.entries = p.entries[:n-1]
	e.pos = -1
	return e
}

func (p *priorityIndex) add(item *types.QueuedItem) {
	if _, ok := p.byId[item.Message.Id]; ok {
		return
	}
	e := &indexEntry{id: item.Message.Id, rank: item.Priority.Rank(), addedAt: item.AddedAt}
	p.byId[e.id] = e
	heap.Push(p, e)
}

func (p *priorityIndex) remove(id string) {
	e, ok := p.byId[id]
	if !ok {
		return
	}
	delete(p.byId, id)
	heap.Remove(p, e.pos)
}

// take removes and returns up to n ids in priority order for which due
// returns true. Ids that are not due stay in the index.
func (p *priorityIndex) take(n int, due func(id string) bool) []string {
	var picked []string
	var skipped []*indexEntry

	for len(picked) < n && p.Len() > 0 {
		e := heap.Pop(p).(*indexEntry)
		if due(e.id) {
			delete(p.byId, e.id)
			picked = append(picked, e.id)
			continue
		}
		skipped = append(skipped, e)
	}
	for _, e := range skipped {
		heap.Push(p, e)
	}
	return picked
}
