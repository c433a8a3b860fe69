// Package export writes session snapshots to storage sinks.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/session"
)

// Target names a delivery location for exported documents.
type Target string

const (
	// TargetPrivate is app-private storage (the SQLite store).
	TargetPrivate Target = "private"
	// TargetShared is a user-visible directory.
	TargetShared Target = "shared"
	// TargetBroker publishes to an MQTT broker.
	TargetBroker Target = "broker"
)

// ParseTarget converts "private", "shared" or "broker" to a Target.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case TargetPrivate, TargetShared, TargetBroker:
		return t, nil
	}
	return "", fmt.Errorf("unknown export target %q", s)
}

// Sink accepts a named session document.
type Sink interface {
	Write(ctx context.Context, name string, doc session.Document) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, name string, doc session.Document) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, name string, doc session.Document) error {
	return f(ctx, name, doc)
}

// ErrUnknownTarget is returned when no sink is registered for a target.
var ErrUnknownTarget = errors.New("no sink for export target")

// ExportError reports a failed sink write. The session is left untouched.
type ExportError struct {
	Target Target
	Name   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s to %s: %v", e.Name, e.Target, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Source is the session the exporter reads from.
type Source interface {
	Snapshot() session.Document
	Discard(doc session.Document)
}

// Result describes a successful export.
type Result struct {
	Target   Target        `json:"target"`
	Name     string        `json:"name"`
	NFrames  int           `json:"n_frames"`
	Duration time.Duration `json:"duration"`
}

// Exporter snapshots a session and hands it to the sink for a target. On
// success it removes exactly the exported frames from the session.
type Exporter struct {
	src         Source
	sinks       map[Target]Sink
	defaultName string
}

// NewExporter creates an exporter over src. An empty defaultName selects
// session.DefaultName.
func NewExporter(src Source, defaultName string) *Exporter {
	if defaultName == "" {
		defaultName = session.DefaultName
	}
	return &Exporter{
		src:         src,
		sinks:       make(map[Target]Sink),
		defaultName: defaultName,
	}
}

// Register installs the sink for target, replacing any previous one.
func (e *Exporter) Register(target Target, sink Sink) {
	e.sinks[target] = sink
}

// Targets returns the targets with a registered sink.
func (e *Exporter) Targets() []Target {
	targets := make([]Target, 0, len(e.sinks))
	for _, t := range []Target{TargetPrivate, TargetShared, TargetBroker} {
		if _, ok := e.sinks[t]; ok {
			targets = append(targets, t)
		}
	}
	return targets
}

// Export writes the current session to target under name. There are no
// retries: on failure an *ExportError is returned and the session keeps
// every frame so the caller can try again.
func (e *Exporter) Export(ctx context.Context, target Target, name string) (session.Document, Result, error) {
	if name == "" {
		name = e.defaultName
	}
	sink, ok := e.sinks[target]
	if !ok {
		return session.Document{}, Result{}, &ExportError{Target: target, Name: name, Err: ErrUnknownTarget}
	}

	start := time.Now()
	doc := e.src.Snapshot()
	if err := sink.Write(ctx, name, doc); err != nil {
		slog.Error("export failed", "target", target, "name", name, "n_frames", doc.NFrames, "error", err)
		return doc, Result{}, &ExportError{Target: target, Name: name, Err: err}
	}
	e.src.Discard(doc)

	res := Result{Target: target, Name: name, NFrames: doc.NFrames, Duration: time.Since(start)}
	slog.Info("session exported", "target", target, "name", name, "n_frames", doc.NFrames, "duration", res.Duration)
	return doc, res, nil
}
