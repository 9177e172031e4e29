package queue

// Subscribe returns a channel that receives a copy of the state after every
// change, starting with the current state. The channel holds only the newest
// snapshot: a slow reader skips intermediate states. Call the returned func
// to unsubscribe; it closes the channel.
func (q *Queue) Subscribe() (<-chan *State, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *State, 1)
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	ch <- q.state.Clone()

	return ch, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if c, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(c)
		}
	}
}

// notifyLocked replaces each subscriber's pending snapshot with the current
// state. Caller must hold q.mu.
func (q *Queue) notifyLocked() {
	for _, ch := range q.subs {
		snap := q.state.Clone()
		select {
		case ch <- snap:
			continue
		default:
		}
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
