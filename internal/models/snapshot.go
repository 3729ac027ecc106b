package models

// Snapshot is the persisted state of a review session.
type Snapshot struct {
	Threads          []Thread   `json:"threads"`
	ActiveThreadID   string     `json:"active_thread_id,omitempty"`
	AISettings       AISettings `json:"ai_settings"`
	DocumentText     string     `json:"document_text"`
	DocumentLanguage string     `json:"document_language"`
	DocumentName     string     `json:"document_name,omitempty"`
}

// EmptySnapshot is what a store holds before anything was saved.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Threads:          []Thread{},
		AISettings:       DefaultAISettings(),
		DocumentLanguage: "javascript",
	}
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Threads = make([]Thread, len(s.Threads))
	for i, t := range s.Threads {
		c.Threads[i] = t.Clone()
	}
	c.AISettings = s.AISettings.Clone()
	return c
}
