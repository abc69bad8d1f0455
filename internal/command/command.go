// Package command routes operator commands to the active pipeline workers.
package command

// Command is an operator command token.
type Command string

const (
	Pause      Command = "pause"
	Next       Command = "next"
	Stop       Command = "stop"
	Mute       Command = "mute"
	IncVol     Command = "inc_vol"
	DecVol     Command = "dec_vol"
	Back30     Command = "back_30"
	Back600    Command = "back_600"
	Forward30  Command = "forward_30"
	Forward600 Command = "forward_600"
	IncSpeed   Command = "inc_speed"
	DecSpeed   Command = "dec_speed"
	Reboot     Command = "reboot"
	Update     Command = "update"
)

// All lists every known command.
var All = []Command{
	Pause, Next, Stop, Mute,
	IncVol, DecVol,
	Back30, Back600, Forward30, Forward600,
	IncSpeed, DecSpeed,
	Reboot, Update,
}

var known = func() map[Command]struct{} {
	m := make(map[Command]struct{}, len(All))
	for _, c := range All {
		m[c] = struct{}{}
	}
	return m
}()

// Parse returns the command for token, or false if the token is unknown.
func Parse(token string) (Command, bool) {
	c := Command(token)
	_, ok := known[c]
	return c, ok
}

// IsPlayback reports whether c is forwarded to the playback worker alone.
func (c Command) IsPlayback() bool {
	switch c {
	case Pause, Next, Mute, IncVol, DecVol, Back30, Back600, Forward30, Forward600, IncSpeed, DecSpeed:
		return true
	}
	return false
}

// seekOffset returns the relative seek in seconds for seek commands.
func (c Command) seekOffset() (float64, bool) {
	switch c {
	case Back30:
		return -30, true
	case Back600:
		return -600, true
	case Forward30:
		return 30, true
	case Forward600:
		return 600, true
	}
	return 0, false
}
