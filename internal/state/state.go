// Package state holds the runtime record shared by the device workers, the
// session engine and the status writer. Every access goes through one mutex.
package state

import (
	"sync"
	"time"

	"fandomat/internal/protocol"
)

type State struct {
	mu sync.Mutex

	sessionActive    bool
	currentSessionID string
	bottleCounter    uint64

	scannerConnected bool
	arduinoConnected bool
	wsConnected      bool

	lastScannerLine     string
	lastArduinoLine     string
	lastWSEventType     string
	startTime           time.Time
	lastServerMessageAt time.Time
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	SessionActive       bool
	SessionID           string
	BottleCounter       uint64
	ScannerConnected    bool
	ArduinoConnected    bool
	WSConnected         bool
	LastScannerLine     string
	LastArduinoLine     string
	LastWSEventType     string
	StartTime           time.Time
	LastServerMessageAt time.Time
}

func New(startTime time.Time) *State {
	return &State{startTime: startTime}
}

// StartSession makes id the active session, replacing any other one.
// It returns false and changes nothing when id is empty.
func (s *State) StartSession(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionActive = true
	s.currentSessionID = id
	return true
}

// Session returns the current session id and whether one is active.
func (s *State) Session() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSessionID, s.sessionActive
}

// IsCurrent reports whether id is the active session.
func (s *State) IsCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionActive && s.currentSessionID == id
}

// EndSession clears the session if id is still the active one.
func (s *State) EndSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sessionActive || s.currentSessionID != id {
		return false
	}
	s.sessionActive = false
	s.currentSessionID = ""
	return true
}

// NextBottleCode increments the bottle counter and formats the code in one
// critical section, so concurrent callers never share a counter value.
func (s *State) NextBottleCode(fandomatID int) string {
	s.mu.Lock()
	s.bottleCounter++
	n := s.bottleCounter
	s.mu.Unlock()
	return protocol.BottleCode(fandomatID, n)
}

func (s *State) SetScannerConnected(v bool) {
	s.mu.Lock()
	s.scannerConnected = v
	s.mu.Unlock()
}

func (s *State) SetArduinoConnected(v bool) {
	s.mu.Lock()
	s.arduinoConnected = v
	s.mu.Unlock()
}

func (s *State) SetWSConnected(v bool) {
	s.mu.Lock()
	s.wsConnected = v
	s.mu.Unlock()
}

// RecordScannerLine stores the decoded line and returns the session that was
// active at that moment.
func (s *State) RecordScannerLine(text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScannerLine = text
	return s.currentSessionID, s.sessionActive
}

func (s *State) RecordArduinoLine(text string) {
	s.mu.Lock()
	s.lastArduinoLine = text
	s.mu.Unlock()
}

// RecordServerMessage marks inbound activity. The session watchdog measures
// silence from the last call. An empty eventType, used for frames that could
// not be decoded, keeps the previous event type.
func (s *State) RecordServerMessage(at time.Time, eventType string) {
	s.mu.Lock()
	s.lastServerMessageAt = at
	if eventType != "" {
		s.lastWSEventType = eventType
	}
	s.mu.Unlock()
}

func (s *State) LastServerMessageAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServerMessageAt
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionActive:       s.sessionActive,
		SessionID:           s.currentSessionID,
		BottleCounter:       s.bottleCounter,
		ScannerConnected:    s.scannerConnected,
		ArduinoConnected:    s.arduinoConnected,
		WSConnected:         s.wsConnected,
		LastScannerLine:     s.lastScannerLine,
		LastArduinoLine:     s.lastArduinoLine,
		LastWSEventType:     s.lastWSEventType,
		StartTime:           s.startTime,
		LastServerMessageAt: s.lastServerMessageAt,
	}
}
