package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/session"
)

// captureLoop reads the camera on a ticker and admits every frame to the
// gate. With motion throttling enabled it switches between the active and
// idle frame rates.
func (a *App) captureLoop(ctx context.Context) {
	cam := a.config.Camera

	var throttle *capture.Throttle
	if a.config.IdleFPS > 0 {
		motion := capture.NewMotionDetector(a.config.MotionThreshold)
		defer motion.Close()
		throttle = capture.NewThrottle(motion, a.config.FPS, a.config.IdleFPS, a.config.IdleAfter)
	}

	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame, err := cam.ReadFrame()
			if err != nil {
				slog.Debug("reading frame", "error", err)
				continue
			}

			if throttle != nil {
				if fps, changed := throttle.Observe(frame, now); changed {
					cam.SetFPS(fps)
					ticker.Reset(time.Second / time.Duration(fps))
					slog.Info("capture rate changed", "fps", fps, "active", throttle.Active())
				}
			}

			a.gate.Submit(frame)
		}
	}
}

// dispatchLoop pulls the freshest admitted frame and runs both detectors
// on it. It waits for both requests before pulling again, so each adapter
// sees at most one request at a time.
func (a *App) dispatchLoop(ctx context.Context) {
	for {
		frame, ok := a.gate.Next(ctx)
		if !ok {
			return
		}
		if a.paused.Load() {
			a.pausedDrops.Add(1)
			continue
		}
		a.process(ctx, frame)
	}
}

func (a *App) process(ctx context.Context, frame *capture.Frame) {
	a.dispatch.Lock()
	defer a.dispatch.Unlock()

	// Requests outlive a canceled pipeline context; Stop waits them out.
	reqCtx := context.WithoutCancel(ctx)

	var reqs []*detector.Request
	var rejected []detector.Kind
	for _, ad := range []*detector.Adapter{a.pose, a.hand} {
		req, err := ad.Submit(reqCtx, frame)
		if err != nil {
			a.rejectedSubmits.Add(1)
			rejected = append(rejected, ad.Kind())
			if errors.Is(err, detector.ErrBusy) {
				slog.Debug("detector busy, frame dropped", "kind", ad.Kind(), "seq", frame.Seq)
			} else {
				slog.Debug("detector unavailable, frame dropped", "kind", ad.Kind(), "seq", frame.Seq, "error", err)
			}
			continue
		}
		reqs = append(reqs, req)
	}

	// One half made it: fill the other with zeros so the frame stays whole.
	if len(reqs) == 1 && a.assembler != nil {
		a.recordEmpty(rejected[0], frame.Seq)
	}

	for _, req := range reqs {
		<-req.Done()
	}
}

func (a *App) onPoseResult(frame *capture.Frame, res detector.Result) {
	a.recordPose(frame.Seq, landmark.NormalizePose(res))
}

func (a *App) onHandResult(frame *capture.Frame, res detector.Result) {
	a.recordHand(frame.Seq, landmark.NormalizeHands(res))
}

func (a *App) onPoseError(frame *capture.Frame, err error) {
	a.detectorFailed(detector.KindPose, frame, err)
}

func (a *App) onHandError(frame *capture.Frame, err error) {
	a.detectorFailed(detector.KindHand, frame, err)
}

// detectorFailed logs the failure and records the all-zero record, so the
// frame still counts.
func (a *App) detectorFailed(kind detector.Kind, frame *capture.Frame, err error) {
	var fe *detector.FailureError
	if errors.As(err, &fe) {
		slog.Warn("detector failure", "kind", kind, "seq", frame.Seq, "code", fe.Code, "message", fe.Message)
	} else {
		slog.Warn("detector request failed", "kind", kind, "seq", frame.Seq, "error", err)
	}
	a.recordEmpty(kind, frame.Seq)
}

func (a *App) recordEmpty(kind detector.Kind, seq uint64) {
	if kind == detector.KindHand {
		a.recordHand(seq, landmark.EmptyHands())
		return
	}
	a.recordPose(seq, landmark.EmptyPose())
}

func (a *App) recordPose(seq uint64, rec landmark.PoseRecord) {
	if !a.recording.Load() {
		return
	}
	var err error
	if a.assembler != nil {
		err = a.assembler.Pose(seq, rec)
	} else {
		err = a.recorder.AppendPose(rec)
	}
	a.appendFailed(err, seq)
}

func (a *App) recordHand(seq uint64, rec landmark.HandRecord) {
	if !a.recording.Load() {
		return
	}
	var err error
	if a.assembler != nil {
		err = a.assembler.Hand(seq, rec)
	} else {
		err = a.recorder.AppendHand(rec)
	}
	a.appendFailed(err, seq)
}

func (a *App) appendFailed(err error, seq uint64) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionFull):
		// Recorder already logged the first rejection.
	default:
		slog.Error("recording frame", "seq", seq, "error", err)
	}
}
