package cache

// Subscribe returns a channel that receives a Snapshot whenever the entry for
// key changes state or records, and a func that ends the subscription and
// closes the channel.
//
// Delivery never blocks the cache: the channel holds one snapshot and a newer
// snapshot replaces an unread older one, so a slow subscriber only ever
// misses intermediate states.
func (c *CollectionCache[R]) Subscribe(key string) (<-chan Snapshot[R], func(), error) {
	e, err := c.entry(key)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.mu.Unlock()

	ch := make(chan Snapshot[R], 1)
	e.mu.Lock()
	e.subs[id] = ch
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe, nil
}

// publishLocked fans the current snapshot out to subscribers. e.mu must be held.
func (c *CollectionCache[R]) publishLocked(e *entry[R]) {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the stale unread snapshot, then deliver the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
