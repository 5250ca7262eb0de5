package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the encoder-reported lifecycle state of a stream.
type StreamStatus string

const (
	StreamOffline  StreamStatus = "OFFLINE"
	StreamStarting StreamStatus = "STARTING"
	StreamOnline   StreamStatus = "ONLINE"
	StreamError    StreamStatus = "ERROR"
)

// Valid reports whether s is a known status.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamOffline, StreamStarting, StreamOnline, StreamError:
		return true
	}
	return false
}

// Stream is a pre-provisioned live source and its viewer aggregates.
type Stream struct {
	ID                 uuid.UUID    `json:"id"`
	StreamKey          string       `json:"stream_key"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	Status             StreamStatus `json:"status"`
	AvailableQualities []string     `json:"available_qualities"`
	DefaultQuality     string       `json:"default_quality"`
	CurrentViewers     int          `json:"current_viewers"`
	PeakViewers        int          `json:"peak_viewers"`
	TotalViews         int64        `json:"total_views"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	EndedAt            *time.Time   `json:"ended_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// HasQuality reports whether q is one of the stream's renditions.
// An empty rendition list means the stream does not restrict qualities.
func (s *Stream) HasQuality(q string) bool {
	if len(s.AvailableQualities) == 0 {
		return true
	}
	for _, aq := range s.AvailableQualities {
		if aq == q {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *Stream) Clone() *Stream {
	c := *s
	c.AvailableQualities = append([]string(nil), s.AvailableQualities...)
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
