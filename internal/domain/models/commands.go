package models

import "strings"

// CommandType enumerates the replies a provider can send over WhatsApp.
type CommandType string

const (
	CommandAccept  CommandType = "accept"
	CommandDecline CommandType = "decline"
	CommandOffers  CommandType = "offers"
	CommandHelp    CommandType = "help"
	CommandUnknown CommandType = "unknown"
)

// Command is a parsed provider instruction extracted from WhatsApp text.
type Command struct {
	Type CommandType
	Raw  string
	// Ref is the request reference the provider typed, if any.
	Ref  string
	Args []string
}

// ParseCommand derives a Command from free-form text or a button id.
// Button ids take the form "accept:<request id>".
func ParseCommand(message string) Command {
	trimmed := strings.TrimSpace(message)
	normalized := strings.ToLower(trimmed)
	cmd := Command{Type: CommandUnknown, Raw: message}

	if normalized == "" {
		return cmd
	}

	if head, ref, ok := strings.Cut(normalized, ":"); ok && !strings.ContainsAny(head, " \t") {
		switch CommandType(head) {
		case CommandAccept, CommandDecline:
			cmd.Type = CommandType(head)
			cmd.Ref = strings.TrimSpace(ref)
			return cmd
		}
	}

	tokens := strings.Fields(normalized)
	head := strings.TrimPrefix(tokens[0], "/")
	switch head {
	case "accept", "yes", "ok":
		cmd.Type = CommandAccept
	case "decline", "reject", "no":
		cmd.Type = CommandDecline
	case "offers", "jobs":
		cmd.Type = CommandOffers
	case "help", "?":
		cmd.Type = CommandHelp
	default:
		return cmd
	}

	if len(tokens) > 1 {
		cmd.Ref = tokens[1]
		// Lower-casing keeps the token count, so the original words line up.
		cmd.Args = strings.Fields(trimmed)[2:]
	}

	return cmd
}

// Reason joins any trailing words of a decline.
func (c Command) Reason() string {
	return strings.Join(c.Args, " ")
}
