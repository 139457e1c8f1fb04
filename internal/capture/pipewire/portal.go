// Package pipewire drives a compositor screen-capture session: an
// xdg-desktop-portal ScreenCast session over D-Bus handing out a
// PipeWire node, and a gst-launch subprocess delivering the node's raw
// frames. In-process GStreamer bindings are deliberately avoided; the
// subprocess boundary keeps pipeline crashes out of this process.
package pipewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/previewd/previewd/internal/logger"
)

// Errors callers classify start failures with. Absence of the portal or
// of the pipeline runtime is structural; denials and timeouts are not.
var (
	ErrPortalMissing  = errors.New("screen capture portal not available")
	ErrRuntimeMissing = errors.New("gst-launch-1.0 not found")
	ErrSessionDenied  = errors.New("screen capture session denied")
	ErrSessionTimeout = errors.New("timed out waiting for portal response")
)

const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"

	sourceTypeMonitor  = 1 << 0
	cursorModeEmbedded = 1 << 1
	persistModeSession = 2

	requestTimeout = 30 * time.Second
	// Source selection may pop a dialog; give the user longer.
	selectTimeout = 60 * time.Second
)

// Portal manages one xdg-desktop-portal ScreenCast session.
type Portal struct {
	conn          *dbus.Conn
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	restoreToken  string
	tokenPath     string
}

// NewPortal connects to the session bus. It fails with ErrPortalMissing
// when the portal service is not reachable.
func NewPortal(ctx context.Context) (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortalMissing, err)
	}

	// The bus may be up without any portal implementation behind it.
	var owner string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0, portalService).Store(&owner); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: no portal service on bus", ErrPortalMissing)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}

	p := &Portal{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "previewd", "portal_token"),
	}
	p.loadRestoreToken()
	return p, nil
}

// Close ends the portal session and the bus connection.
func (p *Portal) Close() error {
	if p.sessionHandle != "" {
		p.conn.Object(portalService, p.sessionHandle).Call(
			"org.freedesktop.portal.Session.Close", 0,
		)
		p.sessionHandle = ""
	}
	return p.conn.Close()
}

// NodeID returns the PipeWire node carrying the captured monitor.
func (p *Portal) NodeID() uint32 {
	return p.nodeID
}

// StartScreenShare runs the CreateSession / SelectSources / Start
// handshake for a monitor source and records the resulting node ID.
// The handshake may block on a user-facing dialog, so it honors ctx
// throughout.
func (p *Portal) StartScreenShare(ctx context.Context) error {
	log := logger.WithComponent("portal")

	sessionHandle, err := p.createSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	p.sessionHandle = sessionHandle
	log.Debug().Str("session", string(sessionHandle)).Msg("Created portal session")

	if err := p.selectSources(ctx, sessionHandle); err != nil {
		return fmt.Errorf("failed to select sources: %w", err)
	}

	nodeID, err := p.start(ctx, sessionHandle)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	p.nodeID = nodeID
	log.Info().Uint32("node_id", nodeID).Msg("Screen capture session started")
	return nil
}

func (p *Portal) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(fmt.Sprintf("previewd%d", os.Getpid())),
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("session%d", os.Getpid())),
	}

	results, err := p.request(ctx, requestTimeout, func(obj dbus.BusObject) *dbus.Call {
		return obj.CallWithContext(ctx, screenCastIface+".CreateSession", 0, options)
	})
	if err != nil {
		return "", err
	}

	handle, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	switch v := handle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", v)
	}
}

func (p *Portal) selectSources(ctx context.Context, sessionHandle dbus.ObjectPath) error {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("select%d", os.Getpid())),
		"types":        dbus.MakeVariant(uint32(sourceTypeMonitor)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(cursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(persistModeSession)),
	}
	if p.restoreToken != "" {
		// A saved token skips the source-selection dialog entirely.
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
	}

	_, err := p.requestWithTimeout(ctx, selectTimeout, func(obj dbus.BusObject) *dbus.Call {
		return obj.CallWithContext(ctx, screenCastIface+".SelectSources", 0, sessionHandle, options)
	})
	return err
}

func (p *Portal) start(ctx context.Context, sessionHandle dbus.ObjectPath) (uint32, error) {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("start%d", os.Getpid())),
	}

	results, err := p.request(ctx, requestTimeout, func(obj dbus.BusObject) *dbus.Call {
		return obj.CallWithContext(ctx, screenCastIface+".Start", 0, sessionHandle, "", options)
	})
	if err != nil {
		return 0, err
	}

	if restore, ok := results["restore_token"]; ok {
		if token, ok := restore.Value().(string); ok {
			p.restoreToken = token
			p.saveRestoreToken()
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in response")
	}
	return nodeIDFromStreams(streams.Value())
}

// nodeIDFromStreams extracts the first node ID from the portal's
// a(ua{sv}) streams value, tolerating the decodings godbus produces.
func nodeIDFromStreams(v any) (uint32, error) {
	switch streams := v.(type) {
	case [][]interface{}:
		if len(streams) > 0 && len(streams[0]) > 0 {
			if id, ok := streams[0][0].(uint32); ok {
				return id, nil
			}
		}
	case []interface{}:
		if len(streams) > 0 {
			if stream, ok := streams[0].([]interface{}); ok && len(stream) > 0 {
				if id, ok := stream[0].(uint32); ok {
					return id, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unrecognized streams format: %T", v)
}

func (p *Portal) request(ctx context.Context, timeout time.Duration, call func(dbus.BusObject) *dbus.Call) (map[string]dbus.Variant, error) {
	return p.requestWithTimeout(ctx, timeout, call)
}

// requestWithTimeout performs one portal request and waits for its
// Response signal. The signal channel is registered before the call so
// a fast response cannot be missed.
func (p *Portal) requestWithTimeout(ctx context.Context, timeout time.Duration, call func(dbus.BusObject) *dbus.Call) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	obj := p.conn.Object(portalService, portalPath)

	responseChan := make(chan *dbus.Signal, 10)
	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	if err := call(obj).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("portal call failed: %w", err)
	}

	return awaitResponse(ctx, timeout, requestPath, responseChan)
}

// awaitResponse waits for the Response signal matching one request,
// bounded by both the portal timeout and caller cancellation.
func awaitResponse(ctx context.Context, timeout time.Duration, requestPath dbus.ObjectPath, responses <-chan *dbus.Signal) (map[string]dbus.Variant, error) {
	deadline := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrSessionTimeout
		case sig := <-responses:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 1 {
				return nil, fmt.Errorf("invalid portal response")
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, fmt.Errorf("%w (code %d)", ErrSessionDenied, code)
			}
			if len(sig.Body) >= 2 {
				if results, ok := sig.Body[1].(map[string]dbus.Variant); ok {
					return results, nil
				}
			}
			return map[string]dbus.Variant{}, nil
		}
	}
}

func (p *Portal) loadRestoreToken() {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return
	}
	var token struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	p.restoreToken = token.Token
}

func (p *Portal) saveRestoreToken() {
	if p.restoreToken == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0o755); err != nil {
		return
	}
	data, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: p.restoreToken})
	if err != nil {
		return
	}
	os.WriteFile(p.tokenPath, data, 0o600)
}
