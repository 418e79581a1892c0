package focus

// State is the shared Focus Mode snapshot.
type State struct {
	IsActive       bool     `json:"isActive"`
	BlockedURLs    []string `json:"blockedUrls"`
	ElapsedSeconds uint32   `json:"elapsedSeconds"`
	TimerSeconds   uint32   `json:"timerSeconds"`
	TimerType      string   `json:"timerType"`
}

// DefaultState returns the inactive state with no blocked URLs.
func DefaultState() State {
	return State{BlockedURLs: []string{}}
}

// Clone returns a deep copy of s. The URL list is never nil.
func (s State) Clone() State {
	s.BlockedURLs = cloneURLs(s.BlockedURLs)
	return s
}

// MarshalJSON always encodes blockedUrls as an array.
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	p := plain(s)
	if p.BlockedURLs == nil {
		p.BlockedURLs = []string{}
	}
	return encode(p)
}

// Command values carried by ExtensionCommand.
const (
	CommandStart = "start"
	CommandStop  = "stop"
)

// TimerTypeNone is used when a caller does not pick a timer.
const TimerTypeNone = "none"

// ExtensionCommand tells the desktop UI what a socket client asked for.
type ExtensionCommand struct {
	Command       string   `json:"command"`
	BlockedURLs   []string `json:"blockedUrls"`
	TimerType     string   `json:"timerType"`
	TimerDuration uint32   `json:"timerDuration"`
}

// StopCommand is the command emitted for every StopFocus.
func StopCommand() ExtensionCommand {
	return ExtensionCommand{
		Command:     CommandStop,
		BlockedURLs: []string{},
		TimerType:   TimerTypeNone,
	}
}

func cloneURLs(urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}
