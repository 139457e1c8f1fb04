package pipewire

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/previewd/previewd/internal/logger"
)

// FrameFunc receives each raw RGBA frame read from the pipeline. The
// pixel slice is reused for the next frame; the callback must copy what
// it keeps before returning.
type FrameFunc func(pix []byte, width, height int, capturedAt time.Time)

// Pipeline runs gst-launch-1.0 reading a PipeWire node and streams raw
// RGBA frames from its stdout. Running the pipeline out of process keeps
// GStreamer crashes from taking previewd down with them.
type Pipeline struct {
	nodeID  uint32
	width   int
	height  int
	onFrame FrameFunc

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	running bool
	done    chan struct{}
	exitErr error
}

// NewPipeline prepares a pipeline for the given node and frame size. It
// fails with ErrRuntimeMissing when gst-launch-1.0 is not installed.
func NewPipeline(nodeID uint32, width, height int, onFrame FrameFunc) (*Pipeline, error) {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeMissing, err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &Pipeline{
		nodeID:  nodeID,
		width:   width,
		height:  height,
		onFrame: onFrame,
	}, nil
}

// Start launches the subprocess and the frame reader.
func (g *Pipeline) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("pipewire-pipeline")

	pipelineStr := fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d ! "+
			"fdsink fd=1 sync=false",
		g.nodeID, g.width, g.height,
	)
	log.Debug().Str("pipeline", pipelineStr).Msg("Starting gst-launch subprocess")

	// sh -c so the ! separators survive argument parsing.
	g.cmd = exec.Command("sh", "-c", "gst-launch-1.0 -q "+pipelineStr)

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	g.stdout = stdout

	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	g.stderr = stderr

	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	g.running = true
	g.done = make(chan struct{})

	go g.readFrames()
	go g.logStderr()

	log.Info().
		Uint32("node_id", g.nodeID).
		Int("pid", g.cmd.Process.Pid).
		Msg("Pipeline subprocess started")
	return nil
}

// Done is closed when the frame reader exits, whether by Stop or because
// the subprocess died. Err reports the cause in the latter case.
func (g *Pipeline) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Err returns the reader's exit error, nil for a clean stop.
func (g *Pipeline) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitErr
}

// readFrames reads fixed-size RGBA frames from the subprocess until EOF.
func (g *Pipeline) readFrames() {
	defer close(g.done)
	log := logger.WithComponent("pipewire-pipeline")

	frameSize := g.width * g.height * 4
	reader := bufio.NewReaderSize(g.stdout, frameSize*2)
	frameBuffer := make([]byte, frameSize)

	for {
		if _, err := io.ReadFull(reader, frameBuffer); err != nil {
			g.mu.Lock()
			stopping := !g.running
			if !stopping {
				g.exitErr = fmt.Errorf("pipeline ended: %w", err)
			}
			g.mu.Unlock()
			if !stopping {
				log.Warn().Err(err).Msg("Pipeline subprocess stopped producing frames")
			}
			return
		}
		if g.onFrame != nil {
			g.onFrame(frameBuffer, g.width, g.height, time.Now())
		}
	}
}

func (g *Pipeline) logStderr() {
	log := logger.WithComponent("pipewire-pipeline")
	scanner := bufio.NewScanner(g.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to drain.
func (g *Pipeline) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cmd := g.cmd
	done := g.done
	g.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	if done != nil {
		<-done
	}
	logger.WithComponent("pipewire-pipeline").Info().Msg("Pipeline subprocess stopped")
	return nil
}
