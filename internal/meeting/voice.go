package meeting

import (
	"sort"
	"sync"
)

// voiceRoster is the per-room set of users in the audio call. It is not
// persisted.
type voiceRoster struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func newVoiceRoster() *voiceRoster {
	return &voiceRoster{rooms: make(map[string]map[string]struct{})}
}

// Add returns the roster after adding userID.
func (v *voiceRoster) Add(roomID, userID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	set, ok := v.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		v.rooms[roomID] = set
	}
	set[userID] = struct{}{}
	return sortedKeys(set)
}

// Remove reports whether userID was in the call.
func (v *voiceRoster) Remove(roomID, userID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	set, ok := v.rooms[roomID]
	if !ok {
		return false
	}
	if _, in := set[userID]; !in {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(v.rooms, roomID)
	}
	return true
}

func (v *voiceRoster) Users(roomID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sortedKeys(v.rooms[roomID])
}

func (v *voiceRoster) Clear(roomID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rooms, roomID)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
