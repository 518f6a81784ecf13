package attribution

// MicrotaskHandle identifies a queued microtask. The host chooses the values;
// they only need to be unique among the microtasks pending in one task.
type MicrotaskHandle uint64

// attributionMap remembers the entry stack that was active when each
// microtask was queued.
type attributionMap struct {
	snapshots map[MicrotaskHandle][]EntryID
}

func newAttributionMap() attributionMap {
	return attributionMap{snapshots: make(map[MicrotaskHandle][]EntryID)}
}

func (m *attributionMap) tag(h MicrotaskHandle, snapshot []EntryID) (
	replaced []EntryID, hadPrevious bool,
) {
	replaced, hadPrevious = m.snapshots[h]
	m.snapshots[h] = snapshot

	return replaced, hadPrevious
}

func (m *attributionMap) lookup(h MicrotaskHandle) ([]EntryID, bool) {
	s, ok := m.snapshots[h]
	return s, ok
}

func (m *attributionMap) release(h MicrotaskHandle) ([]EntryID, bool) {
	s, ok := m.snapshots[h]
	if ok {
		delete(m.snapshots, h)
	}

	return s, ok
}

func (m *attributionMap) len() int {
	return len(m.snapshots)
}

// runningMicrotask is the bookkeeping for a microtask between its begin and
// end notifications.
type runningMicrotask struct {
	handle MicrotaskHandle
	saved  entryStack
}
