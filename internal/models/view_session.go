package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is derived from EndedAt; ENDED is terminal.
type SessionState string

const (
	SessionActive SessionState = "ACTIVE"
	SessionEnded  SessionState = "ENDED"
)

// ViewSession is one user's continuous viewing interval against one stream.
type ViewSession struct {
	SessionID       string     `json:"session_id"`
	UserID          uuid.UUID  `json:"user_id"`
	StreamID        uuid.UUID  `json:"stream_id"`
	Quality         string     `json:"quality"`
	DeviceType      string     `json:"device_type"`
	IPAddress       string     `json:"ip_address"`
	UserAgent       string     `json:"user_agent,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	LastHeartbeat   time.Time  `json:"last_heartbeat"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	WatchDuration   int64      `json:"watch_duration"`
	DataConsumed    int64      `json:"data_consumed"`
	BufferCount     int        `json:"buffer_count"`
	QualitySwitches int        `json:"quality_switches"`
	AverageBitrate  int        `json:"average_bitrate"`
}

// State returns ACTIVE until the session has been ended.
func (s *ViewSession) State() SessionState {
	if s.EndedAt != nil {
		return SessionEnded
	}
	return SessionActive
}

// Clone returns a deep copy of s.
func (s *ViewSession) Clone() *ViewSession {
	c := *s
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}
