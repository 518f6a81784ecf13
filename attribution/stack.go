package attribution

// entryStack holds the ids of the currently active entries, outermost first.
type entryStack []EntryID

func (s entryStack) top() EntryID {
	if len(s) == 0 {
		return 0
	}

	return s[len(s)-1]
}

func (s *entryStack) push(id EntryID) {
	*s = append(*s, id)
}

// popIfTop removes id when it is the top of the stack.
func (s *entryStack) popIfTop(id EntryID) bool {
	n := len(*s)
	if n == 0 || (*s)[n-1] != id {
		return false
	}

	*s = (*s)[:n-1]

	return true
}

func (s entryStack) snapshot() []EntryID {
	if len(s) == 0 {
		return nil
	}

	dup := make([]EntryID, len(s))
	copy(dup, s)

	return dup
}

func (s *entryStack) clear() {
	*s = (*s)[:0]
}
