// Package session accumulates normalized landmark records for one capture
// period and hands out consistent snapshots of them.
package session

import "github.com/ayusman/mudra/internal/landmark"

// DefaultName is the document name used when an export names none.
const DefaultName = "pose_data.json"

// Document is the exported form of a session. Sequences are never nil so
// they encode as [] rather than null.
type Document struct {
	PoseX   [][landmark.PosePoints]float64 `json:"pose_x"`
	PoseY   [][landmark.PosePoints]float64 `json:"pose_y"`
	Hand1X  [][landmark.HandPoints]float64 `json:"hand1_x"`
	Hand1Y  [][landmark.HandPoints]float64 `json:"hand1_y"`
	Hand2X  [][landmark.HandPoints]float64 `json:"hand2_x"`
	Hand2Y  [][landmark.HandPoints]float64 `json:"hand2_y"`
	NFrames int                            `json:"n_frames"`

	// generation ties a snapshot to the recorder state it came from.
	generation uint64
}

// NewDocument returns an empty document.
func NewDocument() Document {
	return Document{
		PoseX:  [][landmark.PosePoints]float64{},
		PoseY:  [][landmark.PosePoints]float64{},
		Hand1X: [][landmark.HandPoints]float64{},
		Hand1Y: [][landmark.HandPoints]float64{},
		Hand2X: [][landmark.HandPoints]float64{},
		Hand2Y: [][landmark.HandPoints]float64{},
	}
}

// PoseLen returns the number of pose records.
func (d Document) PoseLen() int { return len(d.PoseX) }

// HandLen returns the number of hand records.
func (d Document) HandLen() int { return len(d.Hand1X) }

// Aligned reports whether every frame has both a pose and a hand record.
func (d Document) Aligned() bool {
	return len(d.PoseX) == len(d.Hand1X) && len(d.PoseX) == d.NFrames
}

// Summary is a cheap description of a session for status endpoints.
type Summary struct {
	NFrames   int  `json:"n_frames"`
	PoseLen   int  `json:"pose_len"`
	HandLen   int  `json:"hand_len"`
	MaxFrames int  `json:"max_frames"`
	Full      bool `json:"full"`
}
