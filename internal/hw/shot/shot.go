// Package shot drives a two-axis stage controller speaking the SHOT
// command set (M:, H:, R:, G:, Q:) over a serial line.
package shot

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/logic/motion"
)

// ErrRejected is returned when the controller answers NG.
var ErrRejected = errors.New("controller rejected command")

const terminator = "\r\n"

// Controller implements motion.Controller. Axis 1 is the grating, axis 2
// the filter wheel.
type Controller struct {
	mu sync.Mutex
	w  io.Writer
	r  *bufio.Reader
}

var _ motion.Controller = (*Controller)(nil)

// New wraps a serial line (or any io.ReadWriter).
func New(rw io.ReadWriter) *Controller {
	return &Controller{
		w: rw,
		r: bufio.NewReader(rw),
	}
}

func (c *Controller) MoveRelative(gratingPulses, filterPulses int) error {
	return c.command(motion.Command{Grating: gratingPulses, Filter: filterPulses}.String())
}

func (c *Controller) ReturnToOrigin(grating, filter bool) error {
	axes, ok := axisSelector(grating, filter)
	if !ok {
		return nil
	}
	return c.command("H:" + axes)
}

func (c *Controller) LatchOrigin(grating, filter bool) error {
	axes, ok := axisSelector(grating, filter)
	if !ok {
		return nil
	}
	return c.command("R:" + axes)
}

func (c *Controller) Execute() error {
	return c.command("G:")
}

// ReadStatus sends Q: and returns the reply line without its terminator.
func (c *Controller) ReadStatus() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send("Q:"); err != nil {
		return "", err
	}
	return c.readLine()
}

// Raw sends line and returns the reply line, for diagnostics.
func (c *Controller) Raw(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(line); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Controller) command(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(line); err != nil {
		return err
	}
	reply, err := c.readLine()
	if err != nil {
		return err
	}
	switch reply {
	case "OK":
		return nil
	case "NG":
		return errors.Wrap(ErrRejected, line)
	default:
		return errors.Errorf("%s: unexpected reply %q", line, reply)
	}
}

func (c *Controller) send(line string) error {
	debug.Wire("tx", line)
	if _, err := io.WriteString(c.w, line+terminator); err != nil {
		return errors.Wrapf(err, "write %s", line)
	}
	return nil
}

func (c *Controller) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "read reply")
	}
	line = strings.TrimRight(line, terminator)
	debug.Wire("rx", line)
	return line, nil
}

// axisSelector returns the SHOT axis argument: W for both, 1 or 2 for one.
func axisSelector(grating, filter bool) (string, bool) {
	switch {
	case grating && filter:
		return "W", true
	case grating:
		return "1", true
	case filter:
		return "2", true
	default:
		return "", false
	}
}
