package listener

import (
	"sync"

	"github.com/HerbHall/pushlink/internal/parser"
)

// Snapshot holds the most recent parsed message per device name. Each new
// message overwrites the previous record whole; nothing is merged.
type Snapshot struct {
	mu   sync.RWMutex
	last map[string]parser.ParsedMessage
}

// NewSnapshot creates an empty snapshot store.
func NewSnapshot() *Snapshot {
	return &Snapshot{last: make(map[string]parser.ParsedMessage)}
}

// Update records msg as the last message for deviceName.
func (s *Snapshot) Update(deviceName string, msg parser.ParsedMessage) {
	s.mu.Lock()
	s.last[deviceName] = msg
	s.mu.Unlock()
}

// Last returns the most recent message for deviceName, if any.
func (s *Snapshot) Last(deviceName string) (parser.ParsedMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.last[deviceName]
	return msg, ok
}
