package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"driveguard/internal/detection"
	"driveguard/internal/ear"
)

// Source yields one observation per video frame. io.EOF ends the stream.
type Source interface {
	Next(ctx context.Context) (detection.FrameObservation, error)
}

// frameLine is the wire form of one observation. Eyes are given either as
// six [x, y] pairs each, or as a full face mesh plus the frame size.
type frameLine struct {
	FaceDetected bool         `json:"face_detected"`
	LeftEye      [][2]float64 `json:"left_eye"`
	RightEye     [][2]float64 `json:"right_eye"`
	Landmarks    [][2]float64 `json:"landmarks"`
	Width        float64      `json:"width"`
	Height       float64      `json:"height"`
}

func contourFromPairs(pairs [][2]float64) (*ear.Contour, error) {
	if pairs == nil {
		return nil, nil
	}
	if len(pairs) != 6 {
		return nil, fmt.Errorf("eye contour needs 6 points, got %d", len(pairs))
	}
	var c ear.Contour
	for i, p := range pairs {
		c[i] = ear.Point{X: p[0], Y: p[1]}
	}
	return &c, nil
}

// ParseObservation decodes one JSON line
func ParseObservation(line []byte) (detection.FrameObservation, error) {
	var fl frameLine
	if err := json.Unmarshal(line, &fl); err != nil {
		return detection.FrameObservation{}, err
	}

	obs := detection.FrameObservation{FaceDetected: fl.FaceDetected}
	if !fl.FaceDetected {
		return obs, nil
	}

	var err error
	if obs.LeftEye, err = contourFromPairs(fl.LeftEye); err != nil {
		return obs, fmt.Errorf("left_eye: %w", err)
	}
	if obs.RightEye, err = contourFromPairs(fl.RightEye); err != nil {
		return obs, fmt.Errorf("right_eye: %w", err)
	}

	if len(fl.Landmarks) > 0 && obs.LeftEye == nil && obs.RightEye == nil {
		width, height := fl.Width, fl.Height
		if width <= 0 || height <= 0 {
			width, height = 1, 1
		}
		mesh := make([]ear.Point, len(fl.Landmarks))
		for i, p := range fl.Landmarks {
			mesh[i] = ear.Point{X: p[0], Y: p[1]}
		}
		// A short mesh leaves the eye unset; the frame then carries no EAR signal.
		if c, err := ear.ContourFromLandmarks(mesh, ear.LeftEyeIndices, width, height); err == nil {
			obs.LeftEye = &c
		}
		if c, err := ear.ContourFromLandmarks(mesh, ear.RightEyeIndices, width, height); err == nil {
			obs.RightEye = &c
		}
	}
	return obs, nil
}

// JSONLSource reads newline-delimited observations. Malformed lines are
// logged and skipped. Reading happens on a background goroutine so that Next
// returns as soon as ctx ends even while the reader is blocked.
type JSONLSource struct {
	scanner *bufio.Scanner
	logger  *zap.SugaredLogger

	start sync.Once
	stop  sync.Once
	lineC chan scanResult
	quit  chan struct{}

	lines   atomic.Uint64
	skipped atomic.Uint64
}

type scanResult struct {
	line []byte
	err  error
}

// NewJSONLSource wraps r
func NewJSONLSource(r io.Reader, logger *zap.SugaredLogger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	scanner := bufio.NewScanner(r)
	// Full face meshes run to a few tens of kilobytes per line.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &JSONLSource{
		scanner: scanner,
		logger:  logger,
		lineC:   make(chan scanResult),
		quit:    make(chan struct{}),
	}
}

// read feeds lineC until the input ends or the source is closed. The final
// result carries io.EOF or the scan error.
func (s *JSONLSource) read() {
	defer close(s.lineC)
	for s.scanner.Scan() {
		line := append([]byte(nil), s.scanner.Bytes()...)
		select {
		case s.lineC <- scanResult{line: line}:
		case <-s.quit:
			return
		}
	}

	err := io.EOF
	if scanErr := s.scanner.Err(); scanErr != nil {
		err = fmt.Errorf("read observations: %w", scanErr)
	}
	select {
	case s.lineC <- scanResult{err: err}:
	case <-s.quit:
	}
}

// Next implements Source
func (s *JSONLSource) Next(ctx context.Context) (detection.FrameObservation, error) {
	if err := ctx.Err(); err != nil {
		return detection.FrameObservation{}, err
	}
	s.start.Do(func() { go s.read() })

	for {
		var res scanResult
		var ok bool
		select {
		case <-ctx.Done():
			return detection.FrameObservation{}, ctx.Err()
		case res, ok = <-s.lineC:
		}
		if !ok {
			return detection.FrameObservation{}, io.EOF
		}
		if res.err != nil {
			return detection.FrameObservation{}, res.err
		}

		n := s.lines.Add(1)
		if len(res.line) == 0 {
			continue
		}

		obs, err := ParseObservation(res.line)
		if err != nil {
			s.skipped.Add(1)
			s.logger.Warnw("skipping malformed observation", "line", n, "error", err)
			continue
		}
		return obs, nil
	}
}

// Close releases the reader goroutine. It does not close the underlying
// reader; a read already blocked there finishes when that reader does.
func (s *JSONLSource) Close() error {
	s.stop.Do(func() { close(s.quit) })
	return nil
}

// Lines returns the number of lines read
func (s *JSONLSource) Lines() uint64 { return s.lines.Load() }

// Skipped returns the number of malformed lines
func (s *JSONLSource) Skipped() uint64 { return s.skipped.Load() }

// CommandSource runs an external landmark extractor and reads observations
// from its stdout.
type CommandSource struct {
	*JSONLSource
	cmd  *exec.Cmd
	once sync.Once
}

// NewCommandSource starts command; the process is killed when ctx ends
func NewCommandSource(ctx context.Context, command string, args []string, logger *zap.SugaredLogger) (*CommandSource, error) {
	if command == "" {
		return nil, errors.New("landmark command is empty")
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infow("landmark extractor started", "command", command, "pid", cmd.Process.Pid)

	return &CommandSource{
		JSONLSource: NewJSONLSource(stdout, logger),
		cmd:         cmd,
	}, nil
}

// Close stops the extractor and waits for it to exit
func (s *CommandSource) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.JSONLSource.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
	})
	return err
}

// SliceSource replays a fixed list of observations
type SliceSource struct {
	mu   sync.Mutex
	obs  []detection.FrameObservation
	next int
}

// NewSliceSource creates a source over obs
func NewSliceSource(obs ...detection.FrameObservation) *SliceSource {
	return &SliceSource{obs: obs}
}

// Next implements Source
func (s *SliceSource) Next(ctx context.Context) (detection.FrameObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.obs) {
		return detection.FrameObservation{}, io.EOF
	}
	o := s.obs[s.next]
	s.next++
	return o, nil
}
