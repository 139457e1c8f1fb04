// Package platform answers environment questions the capture layer
// needs: is this a remote session, is a compositor running, is the
// screen-cast runtime installed. Each probe is a plain boolean so the
// capture policy can be exercised in tests with canned answers.
package platform

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/godbus/dbus/v5"

	"github.com/previewd/previewd/internal/logger"
)

const portalBusName = "org.freedesktop.portal.Desktop"

// Probes inspects the live environment. Results are computed once at
// construction; the session type does not change mid-process.
type Probes struct {
	remote      bool
	compositing bool
	runtime     bool
}

// Detect runs every probe against the current environment.
func Detect() *Probes {
	p := &Probes{
		remote:      detectRemoteSession(),
		compositing: detectCompositing(),
		runtime:     detectRuntime(),
	}
	logger.WithComponent("platform").Debug().
		Bool("remote_session", p.remote).
		Bool("compositing", p.compositing).
		Bool("runtime_present", p.runtime).
		Msg("Platform probes evaluated")
	return p
}

// RemoteSession reports whether this process runs under a remote shell
// rather than the local interactive desktop.
func (p *Probes) RemoteSession() bool { return p.remote }

// CompositingEnabled reports whether a compositing window manager owns
// the current display.
func (p *Probes) CompositingEnabled() bool { return p.compositing }

// RuntimePresent reports whether the screen-cast portal and pipeline
// runtime are installed.
func (p *Probes) RuntimePresent() bool { return p.runtime }

func detectRemoteSession() bool {
	for _, v := range []string{"SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// detectCompositing checks ownership of the compositor manager
// selection on screen 0. Wayland sessions are composited by
// definition.
func detectCompositing() bool {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return true
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return false
	}
	defer conn.Close()

	name := "_NET_WM_CM_S0"
	atom, err := xproto.InternAtom(conn, true, uint16(len(name)), name).Reply()
	if err != nil || atom.Atom == xproto.AtomNone {
		return false
	}
	owner, err := xproto.GetSelectionOwner(conn, atom.Atom).Reply()
	if err != nil {
		return false
	}
	return owner.Owner != xproto.WindowNone
}

// detectRuntime requires both the desktop portal on the session bus and
// the pipeline launcher on PATH.
func detectRuntime() bool {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return false
	}
	bus, err := dbus.SessionBus()
	if err != nil {
		return false
	}
	var owner string
	err = bus.BusObject().Call(
		"org.freedesktop.DBus.GetNameOwner", 0, portalBusName,
	).Store(&owner)
	if err != nil {
		return false
	}
	return owner != ""
}

// Summary renders the probe results for status output.
func (p *Probes) Summary() string {
	return fmt.Sprintf("remote=%t compositing=%t runtime=%t",
		p.remote, p.compositing, p.runtime)
}
