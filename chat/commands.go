package chat

import "strings"

// Command is a privileged gremlin command parsed from chat.
type Command int

const (
	CommandNone Command = iota
	CommandPause
	CommandResume
)

const (
	pauseText  = "!gremlin pause"
	resumeText = "!gremlin resume"
)

// ParseCommand recognizes the gremlin commands. Commands from senders who are
// neither broadcaster nor moderator, and unrecognized command text, return
// CommandNone: ignored with no state change and no reply.
func ParseCommand(ev Event) Command {
	text := strings.ToLower(strings.TrimSpace(ev.Text))
	if !strings.HasPrefix(text, "!gremlin") {
		return CommandNone
	}
	if !ev.Broadcaster && !ev.Moderator {
		return CommandNone
	}
	switch text {
	case pauseText:
		return CommandPause
	case resumeText:
		return CommandResume
	}
	return CommandNone
}

// Confirmation is the chat reply for an applied command.
func (c Command) Confirmation() string {
	switch c {
	case CommandPause:
		return "Gremlin muted 😶"
	case CommandResume:
		return "Gremlin unleashed 😈"
	}
	return ""
}
