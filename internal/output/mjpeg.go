// Package output encodes captured frames for delivery to clients.
package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/previewd/previewd/internal/logger"
)

// Config controls the encoded stream.
type Config struct {
	JPEGQuality int
	MaxWidth    int
}

// Stats is a snapshot of a stream's activity.
type Stats struct {
	Running    bool      `json:"running"`
	Clients    int       `json:"clients"`
	FrameCount uint64    `json:"frame_count"`
	LastUpdate time.Time `json:"last_update"`
	StartTime  time.Time `json:"start_time"`
}

// MJPEGOutput streams frames as Motion JPEG over HTTP. Frames wider
// than MaxWidth are downscaled before encoding so preview bandwidth
// stays bounded regardless of monitor resolution.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	scaleBuf *image.RGBA

	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = 80
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().
		Int("quality", m.config.JPEGQuality).
		Int("max_width", m.config.MaxWidth).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects all clients.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.frameCount).
		Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes a frame and fans it out to connected clients.
// Slow clients skip frames rather than stalling the pipeline. The
// caller keeps ownership of the image; it is not retained.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	img := m.downscale(frame)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: m.config.JPEGQuality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastUpdate = time.Now()
	m.frameCount++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// downscale shrinks a frame to MaxWidth, reusing one scratch buffer.
// WriteFrame is only ever called from a single capture goroutine per
// output, so the buffer needs no locking.
func (m *MJPEGOutput) downscale(frame *image.RGBA) *image.RGBA {
	if m.config.MaxWidth <= 0 || frame.Bounds().Dx() <= m.config.MaxWidth {
		return frame
	}

	srcW := frame.Bounds().Dx()
	srcH := frame.Bounds().Dy()
	dstW := m.config.MaxWidth
	dstH := srcH * dstW / srcW

	if m.scaleBuf == nil || m.scaleBuf.Bounds().Dx() != dstW || m.scaleBuf.Bounds().Dy() != dstH {
		m.scaleBuf = image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	}
	draw.ApproxBiLinear.Scale(m.scaleBuf, m.scaleBuf.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	return m.scaleBuf
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stats returns a snapshot for status endpoints.
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	frameCount := m.frameCount
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clients := len(m.clients)
	m.clientsMu.RUnlock()

	return Stats{
		Running:    running,
		Clients:    clients,
		FrameCount: frameCount,
		LastUpdate: lastUpdate,
		StartTime:  startTime,
	}
}

// ServeHTTP streams multipart JPEG frames to one client until it
// disconnects or the output stops.
func (m *MJPEGOutput) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")

	frameChan := make(chan []byte, 2)

	m.clientsMu.Lock()
	m.clients[frameChan] = struct{}{}
	clientCount := len(m.clients)
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Int("clients", clientCount).
		Msg("Stream client connected")

	defer func() {
		m.clientsMu.Lock()
		delete(m.clients, frameChan)
		clientCount := len(m.clients)
		m.clientsMu.Unlock()
		logger.WithComponent("mjpeg").Info().
			Int("clients", clientCount).
			Msg("Stream client disconnected")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case jpegData, ok := <-frameChan:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
