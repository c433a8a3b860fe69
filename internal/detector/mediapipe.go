package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/mudra/internal/capture"
)

// ScriptName is the Python landmarker service shipped alongside the binary.
const ScriptName = "landmarker_service.py"

// MediaPipeEngine implements Engine using a Python MediaPipe subprocess.
//
// Protocol: requests and responses are MessagePack messages, each preceded
// by a 4-byte big-endian length. A request carries the JPEG of the oriented
// frame.
type MediaPipeEngine struct {
	kind   Kind
	config Config
	script string
	python string

	// exchange serializes request/response pairs on the pipes.
	exchange sync.Mutex

	// proc guards the process fields below. It is never held across pipe
	// I/O, so Close can always reach the process.
	proc    sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	reader  *bufio.Reader
	started bool
}

// NewMediaPipeEngine creates a new MediaPipe engine for the given kind.
// The Python process is started lazily on first detection.
func NewMediaPipeEngine(kind Kind, config Config, scriptPath string) (*MediaPipeEngine, error) {
	if scriptPath == "" {
		scriptPath = FindScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", ScriptName)
	}

	python := findVenvPython()
	if python == "" {
		python = "python3"
	}

	return &MediaPipeEngine{
		kind:   kind,
		config: config,
		script: scriptPath,
		python: python,
	}, nil
}

// MediaPipeFactory returns a Factory building MediaPipe engines from the
// given script (or the discovered one when empty).
func MediaPipeFactory(scriptPath string) Factory {
	return func(kind Kind, cfg Config) (Engine, error) {
		return NewMediaPipeEngine(kind, cfg, scriptPath)
	}
}

// Detect analyzes a frame and returns detected landmarks.
//
// The subprocess pipes do not honour ctx; the adapter handles a hung call
// by closing the engine, which kills the process and unblocks the read.
func (d *MediaPipeEngine) Detect(ctx context.Context, frame *capture.Frame) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	data, err := frame.EncodeJPEG()
	if err != nil {
		return Result{}, err
	}

	w, h := frame.OrientedSize()
	start := time.Now()
	response, err := d.roundTrip(wireRequest{Seq: frame.Seq, Width: w, Height: h, Image: data})
	if err != nil {
		return Result{}, err
	}
	if response.Error != nil {
		return Result{}, &FailureError{Message: response.Error.Message, Code: response.Error.Code}
	}

	res := Result{
		Subjects:    make([]Subject, len(response.Subjects)),
		InputWidth:  w,
		InputHeight: h,
	}
	for i, s := range response.Subjects {
		res.Subjects[i] = s.toSubject()
	}
	if response.InferenceMS > 0 {
		res.InferenceTime = time.Duration(response.InferenceMS * float64(time.Millisecond))
	} else {
		res.InferenceTime = time.Since(start)
	}

	return res, nil
}

// roundTrip sends one request and reads its response, starting the
// subprocess if needed.
func (d *MediaPipeEngine) roundTrip(req wireRequest) (wireResponse, error) {
	d.exchange.Lock()
	defer d.exchange.Unlock()

	stdin, reader, err := d.pipes()
	if err != nil {
		return wireResponse{}, err
	}

	if err := writeMessage(stdin, req); err != nil {
		return wireResponse{}, fmt.Errorf("write request: %w", err)
	}
	var response wireResponse
	if err := readMessage(reader, &response); err != nil {
		return wireResponse{}, fmt.Errorf("read response: %w", err)
	}
	return response, nil
}

func (d *MediaPipeEngine) pipes() (io.Writer, *bufio.Reader, error) {
	d.proc.Lock()
	defer d.proc.Unlock()

	if !d.started {
		if err := d.startLocked(); err != nil {
			return nil, nil, err
		}
	}
	return d.stdin, d.reader, nil
}

// Close stops the subprocess. Killing it and closing both pipes first
// makes any Detect blocked on a pipe return; the process is reaped once
// that exchange has ended.
func (d *MediaPipeEngine) Close() error {
	d.proc.Lock()
	if !d.started {
		d.proc.Unlock()
		return nil
	}
	cmd, stdin, stdout := d.cmd, d.stdin, d.stdout
	d.cmd, d.stdin, d.stdout, d.reader = nil, nil, nil, nil
	d.started = false
	d.proc.Unlock()

	stdin.Close()
	stdout.Close()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}

	d.exchange.Lock()
	defer d.exchange.Unlock()
	if cmd != nil {
		// Wait reports the kill signal; that is the expected outcome here.
		_ = cmd.Wait()
	}
	return nil
}

func (d *MediaPipeEngine) args() []string {
	return []string{
		d.script,
		"--task", string(d.kind),
		"--delegate", d.config.Backend.String(),
		"--max-subjects", strconv.Itoa(d.config.MaxSubjects),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinDetectionConfidence, 'f', 2, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConfidence, 'f', 2, 64),
		"--min-presence-confidence", strconv.FormatFloat(d.config.MinPresenceConfidence, 'f', 2, 64),
	}
}

func (d *MediaPipeEngine) startLocked() error {
	cmd := exec.Command(d.python, d.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s landmarker: %w", d.kind, err)
	}

	d.attachLocked(cmd, stdin, stdout)
	return nil
}

func (d *MediaPipeEngine) attachLocked(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) {
	d.cmd = cmd
	d.stdin = stdin
	d.stdout = stdout
	d.reader = bufio.NewReader(stdout)
	d.started = true
}

// FindScript looks for the landmarker service in the usual locations.
func FindScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ScriptName),
		filepath.Join("..", "scripts", ScriptName),
		filepath.Join(execDir, "scripts", ScriptName),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", ScriptName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

type wireRequest struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Image  []byte `msgpack:"image"`
}

// wireResponse is what the Python service writes per frame.
type wireResponse struct {
	Seq         uint64        `msgpack:"seq"`
	Subjects    []wireSubject `msgpack:"subjects"`
	InferenceMS float64       `msgpack:"inference_ms"`
	Error       *struct {
		Message string `msgpack:"message"`
		Code    int    `msgpack:"code"`
	} `msgpack:"error"`
}

type wireSubject struct {
	Points     []wirePoint `msgpack:"points"`
	Handedness string      `msgpack:"handedness"`
	Score      float64     `msgpack:"score"`
}

type wirePoint struct {
	X          float64 `msgpack:"x"`
	Y          float64 `msgpack:"y"`
	Z          float64 `msgpack:"z"`
	Visibility float64 `msgpack:"visibility"`
}

func (s wireSubject) toSubject() Subject {
	subject := Subject{
		Landmarks:  make([]Landmark, len(s.Points)),
		Handedness: s.Handedness,
		Score:      s.Score,
	}
	for i, p := range s.Points {
		subject.Landmarks[i] = Landmark{X: p.X, Y: p.Y, Z: p.Z, Visibility: p.Visibility}
	}
	return subject
}

// maxMessageSize bounds a single framed message.
const maxMessageSize = 64 << 20

// writeMessage writes v as a length-prefixed MessagePack message.
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	prefix := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	_, err = w.Write(append(prefix, data...))
	return err
}

// readMessage reads one length-prefixed MessagePack message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return msgpack.Unmarshal(data, v)
}
