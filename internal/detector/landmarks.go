// Package detector wraps external pose and hand landmark engines behind
// serialized, asynchronous adapters.
package detector

import "time"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist         = 0
	ThumbCMC      = 1
	ThumbMCP      = 2
	ThumbIP       = 3
	ThumbTip      = 4
	IndexMCP      = 5
	IndexPIP      = 6
	IndexDIP      = 7
	IndexTip      = 8
	MiddleMCP     = 9
	MiddlePIP     = 10
	MiddleDIP     = 11
	MiddleTip     = 12
	RingMCP       = 13
	RingPIP       = 14
	RingDIP       = 15
	RingTip       = 16
	PinkyMCP      = 17
	PinkyPIP      = 18
	PinkyDIP      = 19
	PinkyTip      = 20
	HandLandmarks = 21
)

// Pose landmark indices following MediaPipe convention. Indices 25 and up
// are the knees, ankles and feet.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftElbow     = 13
	RightElbow    = 14
	LeftWrist     = 15
	RightWrist    = 16
	LeftHip       = 23
	RightHip      = 24
	LeftKnee      = 25
	PoseLandmarks = 33
)

// Landmark is one detected point. X and Y are normalized to [0, 1] image
// coordinates; Z and Visibility are carried when the engine reports them.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Subject is one detected body or hand.
type Subject struct {
	Landmarks  []Landmark `json:"landmarks"`
	Handedness string     `json:"handedness,omitempty"` // "Left" or "Right" for hands
	Score      float64    `json:"score"`
}

// Result is the output of one detection request.
type Result struct {
	Seq           uint64        `json:"seq"`
	Subjects      []Subject     `json:"subjects"`
	InferenceTime time.Duration `json:"inference_time"`
	InputWidth    int           `json:"input_width"`
	InputHeight   int           `json:"input_height"`
}
