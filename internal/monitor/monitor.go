// Package monitor resolves stable monitor identifiers to display geometry.
//
// Descriptors are immutable snapshots taken at resolve time; callers must
// re-resolve after a mode change rather than cache them across sessions.
package monitor

import (
	"errors"
	"fmt"
	"image"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/previewd/previewd/internal/logger"
)

// ErrNotFound reports that no connected output matches a requested
// identifier.
var ErrNotFound = errors.New("monitor not found")

// Descriptor describes a connected monitor at a point in time.
type Descriptor struct {
	// ID is the stable identifier, the RandR output name (e.g. "DP-1").
	ID string `json:"id"`
	// DeviceName is the X display device string (e.g. "DISPLAY1").
	DeviceName string `json:"device_name"`
	// OutputIndex is the position in the RandR output list.
	OutputIndex int `json:"output_index"`

	Bounds      image.Rectangle `json:"bounds"`
	WorkArea    image.Rectangle `json:"work_area"`
	ScaleFactor float64         `json:"scale_factor"`
	// Rotation in degrees clockwise (0, 90, 180, 270).
	Rotation int  `json:"rotation"`
	Primary  bool `json:"primary"`
}

// StableKey returns the best available identity for per-monitor bookkeeping.
// Preference order: stable ID, device name, output-index composite.
func (d Descriptor) StableKey() string {
	if d.ID != "" {
		return d.ID
	}
	if d.DeviceName != "" {
		return d.DeviceName
	}
	return fmt.Sprintf("output-%d", d.OutputIndex)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %dx%d+%d+%d", d.StableKey(),
		d.Bounds.Dx(), d.Bounds.Dy(), d.Bounds.Min.X, d.Bounds.Min.Y)
}

// Locator enumerates monitors via the RandR extension.
type Locator struct {
	conn *xgb.Conn
	root xproto.Window
}

// NewLocator connects to the X server and initializes RandR.
func NewLocator() (*Locator, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("RandR extension not available: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &Locator{conn: conn, root: screen.Root}, nil
}

// Close releases the X connection.
func (l *Locator) Close() {
	l.conn.Close()
}

// List returns descriptors for all connected outputs with an active CRTC.
func (l *Locator) List() ([]Descriptor, error) {
	res, err := randr.GetScreenResourcesCurrent(l.conn, l.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query screen resources: %w", err)
	}

	primary, err := randr.GetOutputPrimary(l.conn, l.root).Reply()
	if err != nil {
		logger.WithComponent("monitor-locator").Warn().
			Err(err).
			Msg("Failed to query primary output")
	}

	workArea := l.workArea()

	var monitors []Descriptor
	for i, output := range res.Outputs {
		info, err := randr.GetOutputInfo(l.conn, output, res.ConfigTimestamp).Reply()
		if err != nil || info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}

		crtc, err := randr.GetCrtcInfo(l.conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		bounds := image.Rect(
			int(crtc.X), int(crtc.Y),
			int(crtc.X)+int(crtc.Width), int(crtc.Y)+int(crtc.Height),
		)

		d := Descriptor{
			ID:          string(info.Name),
			DeviceName:  fmt.Sprintf("DISPLAY%d", len(monitors)+1),
			OutputIndex: i,
			Bounds:      bounds,
			WorkArea:    clampWorkArea(workArea, bounds),
			ScaleFactor: scaleFactor(int(crtc.Width), int(info.MmWidth)),
			Rotation:    rotationDegrees(crtc.Rotation),
			Primary:     primary != nil && primary.Output == output,
		}
		monitors = append(monitors, d)
	}

	if len(monitors) == 0 {
		return nil, fmt.Errorf("no connected monitors found")
	}
	return monitors, nil
}

// Resolve finds a monitor by stable ID, falling back to device name and
// the output-index composite key.
func (l *Locator) Resolve(id string) (Descriptor, error) {
	monitors, err := l.List()
	if err != nil {
		return Descriptor{}, err
	}
	for _, m := range monitors {
		if m.ID == id {
			return m, nil
		}
	}
	for _, m := range monitors {
		if m.DeviceName == id {
			return m, nil
		}
	}
	for _, m := range monitors {
		if fmt.Sprintf("output-%d", m.OutputIndex) == id {
			return m, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q among %d outputs", ErrNotFound, id, len(monitors))
}

// Primary returns the primary monitor, or the first one if none is marked.
func (l *Locator) Primary() (Descriptor, error) {
	monitors, err := l.List()
	if err != nil {
		return Descriptor{}, err
	}
	for _, m := range monitors {
		if m.Primary {
			return m, nil
		}
	}
	return monitors[0], nil
}

// workArea reads _NET_WORKAREA for the current desktop. Returns the zero
// rectangle when the window manager does not publish it.
func (l *Locator) workArea() image.Rectangle {
	atom, err := xproto.InternAtom(l.conn, true, uint16(len("_NET_WORKAREA")), "_NET_WORKAREA").Reply()
	if err != nil || atom.Atom == 0 {
		return image.Rectangle{}
	}
	prop, err := xproto.GetProperty(l.conn, false, l.root, atom.Atom,
		xproto.AtomCardinal, 0, 4).Reply()
	if err != nil || len(prop.Value) < 16 {
		return image.Rectangle{}
	}
	v := prop.Value
	x := int(uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24)
	y := int(uint32(v[4]) | uint32(v[5])<<8 | uint32(v[6])<<16 | uint32(v[7])<<24)
	w := int(uint32(v[8]) | uint32(v[9])<<8 | uint32(v[10])<<16 | uint32(v[11])<<24)
	h := int(uint32(v[12]) | uint32(v[13])<<8 | uint32(v[14])<<16 | uint32(v[15])<<24)
	return image.Rect(x, y, x+w, y+h)
}

// clampWorkArea intersects the desktop work area with the monitor bounds,
// falling back to the full bounds when the work area is unknown.
func clampWorkArea(workArea, bounds image.Rectangle) image.Rectangle {
	if workArea.Empty() {
		return bounds
	}
	if r := workArea.Intersect(bounds); !r.Empty() {
		return r
	}
	return bounds
}

// scaleFactor estimates the DPI scale from pixel and millimeter widths,
// relative to the 96 DPI baseline. Unknown physical size reports 1.0.
func scaleFactor(pixels, mm int) float64 {
	if pixels <= 0 || mm <= 0 {
		return 1.0
	}
	dpi := float64(pixels) / (float64(mm) / 25.4)
	return dpi / 96.0
}

// rotationDegrees converts a RandR rotation bitmask to degrees clockwise.
func rotationDegrees(r uint16) int {
	switch {
	case r&randr.RotationRotate90 != 0:
		return 90
	case r&randr.RotationRotate180 != 0:
		return 180
	case r&randr.RotationRotate270 != 0:
		return 270
	default:
		return 0
	}
}
