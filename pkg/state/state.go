package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxHistoryEntries bounds the interaction history; the oldest entries
// are dropped once the session grows past it.
const MaxHistoryEntries = 50

// Course is a single purchased-course record.
type Course struct {
	ID           string    `json:"id"`
	PurchaseDate time.Time `json:"purchase_date"`
}

// Valid reports whether the record is well-formed. Records decoded from
// untrusted JSON can arrive with an empty id or a zero purchase date.
func (c Course) Valid() bool {
	return strings.TrimSpace(c.ID) != "" && !c.PurchaseDate.IsZero()
}

// HistoryEntry is one turn of the conversation as seen by every agent.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the entry carries both a role and a message.
func (e HistoryEntry) Valid() bool {
	return strings.TrimSpace(e.Role) != "" && strings.TrimSpace(e.Message) != ""
}

// Snapshot is a point-in-time copy of the session state. Mutating a
// snapshot never affects the live store.
type Snapshot struct {
	UserName           string         `json:"user_name"`
	PurchasedCourses   []Course       `json:"purchased_courses"`
	InteractionHistory []HistoryEntry `json:"interaction_history"`
}

// Store holds the shared mutable state for one conversation. All agents
// and tools see the same store; reads return filtered copies and writes
// follow read-copy-append-write so a failed mutation never leaves the
// state half-updated.
type Store struct {
	mu       sync.RWMutex
	userName string
	courses  []Course
	history  []HistoryEntry
	logger   zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	UserName string
	Logger   zerolog.Logger
}

// DefaultUserName is the placeholder set at session start before the
// user introduces themselves.
const DefaultUserName = "there"

// New creates a session state store with placeholder values.
func New(cfg Config) *Store {
	userName := cfg.UserName
	if userName == "" {
		userName = DefaultUserName
	}

	return &Store{
		userName: userName,
		courses:  []Course{},
		history:  []HistoryEntry{},
		logger:   cfg.Logger,
	}
}

// UserName returns the current user name.
func (s *Store) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

// SetUserName updates the user name. Empty names are ignored.
func (s *Store) SetUserName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	s.mu.Lock()
	s.userName = name
	s.mu.Unlock()
}

// Courses returns a filtered copy of the purchased courses. Malformed
// entries are dropped from the view, never returned to callers.
func (s *Store) Courses() []Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterCourses(s.courses)
}

// HasCourse reports whether a valid purchase record exists for the id.
func (s *Store) HasCourse(courseID string) bool {
	for _, c := range s.Courses() {
		if c.ID == courseID {
			return true
		}
	}
	return false
}

// AddCourse appends a purchase record. Duplicate purchases are rejected.
func (s *Store) AddCourse(courseID string, purchasedAt time.Time) error {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return fmt.Errorf("course id cannot be empty")
	}
	if purchasedAt.IsZero() {
		purchasedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := filterCourses(s.courses)
	for _, c := range current {
		if c.ID == courseID {
			return fmt.Errorf("course already purchased: %s", courseID)
		}
	}

	next := make([]Course, len(current), len(current)+1)
	copy(next, current)
	next = append(next, Course{ID: courseID, PurchaseDate: purchasedAt})
	s.courses = next

	s.logger.Info().Str("course_id", courseID).Msg("Course added to session state")
	return nil
}

// RemoveCourse deletes the purchase record for the id and returns it.
func (s *Store) RemoveCourse(courseID string) (Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := filterCourses(s.courses)
	next := make([]Course, 0, len(current))
	var removed Course
	found := false
	for _, c := range current {
		if c.ID == courseID && !found {
			removed = c
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		return Course{}, fmt.Errorf("course not found: %s", courseID)
	}
	s.courses = next

	s.logger.Info().Str("course_id", courseID).Msg("Course removed from session state")
	return removed, nil
}

// AppendHistory records one interaction turn. Entries missing a role or
// message are dropped, and the history is trimmed to MaxHistoryEntries.
func (s *Store) AppendHistory(role, message string) {
	entry := HistoryEntry{Role: role, Message: message, Timestamp: time.Now()}
	if !entry.Valid() {
		s.logger.Warn().Str("role", role).Msg("Dropping malformed history entry")
		return
	}

	s.mu.Lock()
	current := filterHistory(s.history)
	next := make([]HistoryEntry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, entry)
	if len(next) > MaxHistoryEntries {
		next = next[len(next)-MaxHistoryEntries:]
	}
	s.history = next
	s.mu.Unlock()
}

// History returns a filtered copy of the interaction history.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterHistory(s.history)
}

// RecentHistory returns up to limit of the latest history entries. A
// non-positive limit returns the full history.
func (s *Store) RecentHistory(limit int) []HistoryEntry {
	entries := s.History()
	if limit <= 0 || limit >= len(entries) {
		return entries
	}
	return entries[len(entries)-limit:]
}

// Snapshot returns a deep copy of the full session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		UserName:           s.userName,
		PurchasedCourses:   filterCourses(s.courses),
		InteractionHistory: filterHistory(s.history),
	}
}

// Restore replaces the store contents from a snapshot, filtering
// malformed entries on the way in.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(snap.UserName) != "" {
		s.userName = snap.UserName
	}
	s.courses = filterCourses(snap.PurchasedCourses)
	s.history = filterHistory(snap.InteractionHistory)
}

func filterCourses(in []Course) []Course {
	out := make([]Course, 0, len(in))
	for _, c := range in {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

func filterHistory(in []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(in))
	for _, e := range in {
		if e.Valid() {
			out = append(out, e)
		}
	}
	return out
}
