package adapters

import "strings"

// Code is a canonical PTZ trajectory.
type Code string

const (
	Left    Code = "left"
	Right   Code = "right"
	Up      Code = "up"
	Down    Code = "down"
	ZoomIn  Code = "zoomin"
	ZoomOut Code = "zoomout"
	Stop    Code = "stop"
)

// Command is a normalized UI event.
// Code is the trajectory to execute; it is always Stop unless IsPress.
// Direction keeps the mapped direction so stop calls can pick the right dialect.
type Command struct {
	Code      Code
	Direction Code
	IsPress   bool
}

// IsStop reports whether the command must halt the camera.
func (c Command) IsStop() bool {
	return c.Code == Stop
}

// IsZoom reports whether the prior direction was a zoom.
func (c Command) IsZoom() bool {
	return c.Direction == ZoomIn || c.Direction == ZoomOut
}

// AsStop returns the stop command for the same prior direction.
func (c Command) AsStop() Command {
	return Command{Code: Stop, Direction: c.Direction, IsPress: false}
}

// Velocity maps the command to a (pan, tilt, zoom) vector of magnitude speed.
// Stop is the zero vector.
func (c Command) Velocity(speed float64) (pan, tilt, zoom float64) {
	switch c.Code {
	case Left:
		return -speed, 0, 0
	case Right:
		return speed, 0, 0
	case Up:
		return 0, speed, 0
	case Down:
		return 0, -speed, 0
	case ZoomIn:
		return 0, 0, speed
	case ZoomOut:
		return 0, 0, -speed
	}
	return 0, 0, 0
}

var directionSynonyms = map[string]Code{
	"left":      Left,
	"l":         Left,
	"pan-left":  Left,
	"pan_left":  Left,
	"panleft":   Left,
	"right":     Right,
	"r":         Right,
	"pan-right": Right,
	"pan_right": Right,
	"panright":  Right,
	"up":        Up,
	"u":         Up,
	"tilt-up":   Up,
	"tilt_up":   Up,
	"tiltup":    Up,
	"down":      Down,
	"d":         Down,
	"tilt-down": Down,
	"tilt_down": Down,
	"tiltdown":  Down,
	"zoomin":    ZoomIn,
	"zoom-in":   ZoomIn,
	"zoom_in":   ZoomIn,
	"in":        ZoomIn,
	"+":         ZoomIn,
	"tele":      ZoomIn,
	"zoomout":   ZoomOut,
	"zoom-out":  ZoomOut,
	"zoom_out":  ZoomOut,
	"out":       ZoomOut,
	"-":         ZoomOut,
	"wide":      ZoomOut,
	"stop":      Stop,
	"halt":      Stop,
	"":          Stop,
}

var pressEvents = map[string]bool{
	"mousedown":   true,
	"pointerdown": true,
	"touchstart":  true,
	"press":       true,
	"keydown":     true,
}

// NormalizeDirection maps a raw direction to its canonical code.
// Unknown values pass through lower-cased.
func NormalizeDirection(raw string) Code {
	key := strings.ToLower(strings.TrimSpace(raw))
	if code, ok := directionSynonyms[key]; ok {
		return code
	}
	return Code(key)
}

// IsPressEvent reports whether the UI event starts motion.
func IsPressEvent(rawEventType string) bool {
	return pressEvents[strings.ToLower(strings.TrimSpace(rawEventType))]
}

// Normalize turns a raw UI direction and event name into a Command.
// Anything that is not a press (mouseup, mouseleave, touchend, ...) yields
// the stop trajectory regardless of direction.
func Normalize(rawDirection, rawEventType string) Command {
	dir := NormalizeDirection(rawDirection)
	cmd := Command{Code: dir, Direction: dir, IsPress: IsPressEvent(rawEventType)}
	if !cmd.IsPress {
		cmd.Code = Stop
	}
	return cmd
}
