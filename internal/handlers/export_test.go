package handlers

// LiveSessions returns the number of sessions currently held in memory.
func (m Main) LiveSessions() int {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	return len(m.sessions.sessions)
}
