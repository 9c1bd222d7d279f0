package protocol

// Control tokens carried inside decrypted plaintext.
const (
	TokenQuit = "{quit}"
	TokenWho  = "{who}"

	// TokenHelp never crosses the wire; clients expand it locally.
	TokenHelp = "{help}"
)

// Command classifies one decrypted plaintext line from an active session.
type Command int

const (
	CmdChat Command = iota
	CmdQuit
	CmdWho
)

// ParseCommand maps a plaintext line to its command. Tokens match exactly;
// anything else is chat text.
func ParseCommand(text string) Command {
	switch text {
	case TokenQuit:
		return CmdQuit
	case TokenWho:
		return CmdWho
	default:
		return CmdChat
	}
}
