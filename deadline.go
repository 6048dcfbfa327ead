package evhttp

// deadlineHeap is a 4-ary min-heap of connection deadlines expressed in
// absoluteNano time. It is only touched from the reactor goroutine.
//
// Activity does not re-key the heap. An expired item is re-checked through
// the callback passed to expire, which either evicts it or reports the new
// deadline.
type deadlineHeap struct {
	items []*deadlineItem
}

type deadlineItem struct {
	id   uint64
	when int64
}

func badHeap() {
	panic("evhttp: deadline heap corruption")
}

func (dh *deadlineHeap) Len() int { return len(dh.items) }

func (dh *deadlineHeap) push(id uint64, when int64) {
	if when <= 0 {
		badHeap()
	}
	dh.items = append(dh.items, &deadlineItem{id: id, when: when})
	siftUp(dh.items, len(dh.items)-1)
}

// expire visits every item whose deadline is not after now. check returns the
// item's new deadline, or keep=false to drop it.
func (dh *deadlineHeap) expire(now int64, check func(id uint64) (when int64, keep bool)) (n int) {
	for len(dh.items) > 0 && dh.items[0].when <= now {
		item := dh.items[0]
		when, keep := check(item.id)
		if !keep {
			dh.del0()
			n++
			continue
		}
		if when <= now {
			// the callback must push the deadline forward
			badHeap()
		}
		item.when = when
		siftDown(dh.items, 0)
	}
	return
}

func (dh *deadlineHeap) del0() {
	last := len(dh.items) - 1
	if last > 0 {
		dh.items[0], dh.items[last] = dh.items[last], dh.items[0]
	}
	dh.items[last] = nil
	dh.items = dh.items[:last]
	if last > 0 {
		siftDown(dh.items, 0)
	}
}

func siftUp(items []*deadlineItem, i int) int {
	if i >= len(items) {
		badHeap()
	}
	when := items[i].when
	tmp := items[i]
	for i > 0 {
		p := (i - 1) / 4 // parent
		if when >= items[p].when {
			break
		}
		items[i] = items[p]
		i = p
	}
	if tmp != items[i] {
		items[i] = tmp
	}
	return i
}

func siftDown(items []*deadlineItem, i int) {
	n := len(items)
	if i >= n {
		badHeap()
	}
	when := items[i].when
	tmp := items[i]
	for {
		c := i*4 + 1 // left child
		c3 := c + 2  // mid child
		if c >= n {
			break
		}
		w := items[c].when
		if c+1 < n && items[c+1].when < w {
			w = items[c+1].when
			c++
		}
		if c3 < n {
			w3 := items[c3].when
			if c3+1 < n && items[c3+1].when < w3 {
				w3 = items[c3+1].when
				c3++
			}
			if w3 < w {
				w = w3
				c = c3
			}
		}
		if w >= when {
			break
		}
		items[i] = items[c]
		i = c
	}
	if tmp != items[i] {
		items[i] = tmp
	}
}
