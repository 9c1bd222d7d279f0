package protocol

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNicknameLength bounds admitted nicknames, counted in runes.
const MaxNicknameLength = 8

// Fixed texts of the room protocol. MsgClosed is load-bearing: clients
// treat receipt of exactly this string as "server gone" and terminate
// cleanly instead of erroring.
const (
	MsgGreeting = "You have entered the lair!\nEnter your name!"
	MsgClosed   = "The lair is closed."
	MsgTooLong  = "Message was too long to send."

	MsgBadNickname = "Your name must be alphanumeric only, e.g. The3vil1\nand no longer than 8 characters."
)

// NicknameTaken is the rejection sent when a candidate nickname is already
// held by an admitted session.
func NicknameTaken(nick string) string {
	return fmt.Sprintf("%s is already taken, choose another name.", nick)
}

// Welcome is the personal greeting sent to a freshly admitted session.
func Welcome(nick string) string {
	return fmt.Sprintf("Welcome to the Lair %s! Type %s for commands.", nick, TokenHelp)
}

// Entered is broadcast to the room when a session is admitted.
func Entered(nick string) string {
	return fmt.Sprintf("%s has entered the lair!", nick)
}

// Left is broadcast to the room when an admitted session disconnects.
func Left(nick string) string {
	return fmt.Sprintf("%s has left the lair.", nick)
}

// WhoLine formats one roster entry of the {who} reply. Host only, no port.
func WhoLine(nick, host string) string {
	return fmt.Sprintf("%s at %s\n", nick, host)
}

// FormatChat prefixes chat text with a timestamp line and the sender.
func FormatChat(nick, text string, at time.Time) string {
	return fmt.Sprintf("[%s]\n%s: %s", at.Format("15:04:05"), nick, text)
}

// ValidNickname reports whether nick is acceptable: letters and digits
// only, between 1 and MaxNicknameLength runes.
func ValidNickname(nick string) bool {
	if nick == "" || utf8.RuneCountInString(nick) > MaxNicknameLength {
		return false
	}
	for _, r := range nick {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// Banner centers title in a row of asterisks, width columns wide. Titles
// wider than width are returned unchanged.
func Banner(title string, width int) string {
	pad := width - len(title)
	if pad <= 0 {
		return title
	}
	left := pad / 2
	return strings.Repeat("*", left) + title + strings.Repeat("*", pad-left)
}
