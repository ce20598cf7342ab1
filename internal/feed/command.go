package feed

import "strings"

// Command is a decoded client->feed text frame, of the form
// "cmd:payload" (spec §4.6), e.g. "subscribe:Polkadot" or "ping:42".
type Command struct {
	Name    string
	Payload string
}

// ParseCommand splits a raw feed text frame at its first colon. It
// reports ok=false for frames with no colon, which the original
// silently ignores.
func ParseCommand(text string) (Command, bool) {
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return Command{}, false
	}
	return Command{Name: text[:idx], Payload: text[idx+1:]}, true
}

const (
	CmdSubscribe      = "subscribe"
	CmdSendFinality   = "send-finality"
	CmdNoMoreFinality = "no-more-finality"
	CmdPing           = "ping"
)
