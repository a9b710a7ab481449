package bot

import (
	"strings"

	"github.com/cockroachdb/errors"

	"jobmate/alert-service/internal/model"
)

// Event is one inbound chat interaction: a CommandEvent, TextEvent or
// ButtonEvent. The set is closed.
type Event interface {
	Chat() int64
	isEvent()
}

// CommandEvent is a slash command. Name is lower-case without the slash or
// bot mention; Args is the trimmed remainder of the message.
type CommandEvent struct {
	ChatID int64
	Name   string
	Args   string
}

// TextEvent is a free-text message.
type TextEvent struct {
	ChatID int64
	Text   string
}

// ButtonEvent is an inline keyboard press.
type ButtonEvent struct {
	ChatID     int64
	CallbackID string
	MessageID  int
	Data       string
}

func (e CommandEvent) Chat() int64 { return e.ChatID }
func (e TextEvent) Chat() int64    { return e.ChatID }
func (e ButtonEvent) Chat() int64  { return e.ChatID }

func (CommandEvent) isEvent() {}
func (TextEvent) isEvent()    {}
func (ButtonEvent) isEvent()  {}

// Command names.
const (
	CmdStart       = "start"
	CmdHelp        = "help"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdMyInfo      = "myinfo"
	CmdList        = "list"
	CmdCancel      = "cancel"
)

const buttonPrefix = "freq:"

// FrequencyButtonData encodes a frequency choice tied to a session.
func FrequencyButtonData(f model.Frequency, sessionID string) string {
	return buttonPrefix + string(f) + ":" + sessionID
}

// ParseFrequencyButton decodes data produced by FrequencyButtonData.
func ParseFrequencyButton(data string) (model.Frequency, string, error) {
	rest, ok := strings.CutPrefix(data, buttonPrefix)
	if !ok {
		return "", "", errors.Newf("unexpected button data %q", data)
	}
	raw, sessionID, ok := strings.Cut(rest, ":")
	if !ok || sessionID == "" {
		return "", "", errors.Newf("button data %q has no session", data)
	}
	f, err := model.ParseFrequency(raw)
	if err != nil {
		return "", "", err
	}
	return f, sessionID, nil
}

// ParseCommand splits "/name@bot args" into a CommandEvent. ok is false when
// text is not a command.
func ParseCommand(chatID int64, text string) (CommandEvent, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return CommandEvent{}, false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	if name == "" {
		return CommandEvent{}, false
	}
	return CommandEvent{ChatID: chatID, Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}
