// Package landmark turns variable-shape detector output into fixed-shape
// per-frame coordinate records.
package landmark

import "github.com/ayusman/mudra/internal/detector"

const (
	// PosePoints is the number of pose landmarks kept per frame: the upper
	// body down to the hips. Knees, ankles and feet are dropped.
	PosePoints = 25

	// HandPoints is the number of landmarks per hand slot.
	HandPoints = 21

	// HandSlots is the number of hands recorded per frame.
	HandSlots = 2
)

// PoseRecord holds exactly PosePoints x and y coordinates.
type PoseRecord struct {
	X [PosePoints]float64
	Y [PosePoints]float64
}

// HandRecord holds two hand slots of exactly HandPoints coordinates each.
// A single detected hand always lands in slot 1.
type HandRecord struct {
	Hand1X [HandPoints]float64
	Hand1Y [HandPoints]float64
	Hand2X [HandPoints]float64
	Hand2Y [HandPoints]float64
}

// EmptyPose returns the all-zero pose record.
func EmptyPose() PoseRecord { return PoseRecord{} }

// EmptyHands returns the all-zero hand record.
func EmptyHands() HandRecord { return HandRecord{} }

// IsZero reports whether no coordinate is set.
func (p PoseRecord) IsZero() bool { return p == PoseRecord{} }

// IsZero reports whether both slots are empty.
func (h HandRecord) IsZero() bool { return h == HandRecord{} }

// NormalizePose keeps the first subject's first PosePoints landmarks in
// detector order. Missing points stay zero.
func NormalizePose(res detector.Result) PoseRecord {
	var rec PoseRecord
	if len(res.Subjects) == 0 {
		return rec
	}
	fill(rec.X[:], rec.Y[:], res.Subjects[0].Landmarks)
	return rec
}

// NormalizeHands places the first two hands in detector order into slots
// 1 and 2. Each slot is truncated or zero-padded to HandPoints.
func NormalizeHands(res detector.Result) HandRecord {
	var rec HandRecord
	if len(res.Subjects) > 0 {
		fill(rec.Hand1X[:], rec.Hand1Y[:], res.Subjects[0].Landmarks)
	}
	if len(res.Subjects) > 1 {
		fill(rec.Hand2X[:], rec.Hand2Y[:], res.Subjects[1].Landmarks)
	}
	return rec
}

// fill copies as many points as fit; the rest of xs and ys is untouched.
func fill(xs, ys []float64, points []detector.Landmark) {
	n := min(len(points), len(xs))
	for i := range n {
		xs[i] = points[i].X
		ys[i] = points[i].Y
	}
}
