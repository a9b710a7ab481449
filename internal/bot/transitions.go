// Package bot implements the chat conversation for managing subscriptions.
//
// Conversation graph:
//
//	idle ──/subscribe──► awaiting_keyword(subscribe) ──text──► awaiting_frequency ──button──► idle
//	idle ──/unsubscribe──► awaiting_keyword(unsubscribe) ──text──► idle
//
// /cancel returns to idle from any step. Transition is pure; Handler applies
// its result and performs the side effects.
package bot

import (
	"fmt"
	"strings"

	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/session"
	"jobmate/alert-service/internal/subscription"
)

// EffectKind selects what the handler does after a transition.
type EffectKind int

const (
	EffectReply EffectKind = iota
	EffectSubscribe
	EffectUnsubscribe
	EffectList
	EffectRejectButton
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Effect is the side effect requested by Transition.
type Effect struct {
	Kind      EffectKind
	Text      string
	Keyboard  Keyboard
	Keyword   string
	Frequency model.Frequency
}

// Reply texts.
const (
	UsageText = "I send you new remote job postings that match your keywords.\n\n" +
		"/subscribe - follow a keyword\n" +
		"/unsubscribe - stop following a keyword\n" +
		"/myinfo - list your keywords\n" +
		"/cancel - abort the current step"
	PromptSubscribeKeyword   = "Send the keyword you want to follow (for example: python)."
	PromptUnsubscribeKeyword = "Send the keyword you want to stop following."
	PromptUseButtons         = "Please pick a frequency with the buttons above, or /cancel."
	IdleHint                 = "Use /subscribe to follow a keyword or /help for all commands."
	CancelledText            = "Cancelled."
	NothingToCancelText      = "Nothing to cancel."
	UnknownCommandText       = "Unknown command. Use /help to see what I understand."
	ExpiredSelectionText     = "Invalid or expired selection."
)

func chooseFrequency(keyword, sessionID string) Effect {
	row := make([]Button, 0, len(model.Frequencies))
	for _, f := range model.Frequencies {
		row = append(row, Button{Text: f.Label(), Data: FrequencyButtonData(f, sessionID)})
	}
	return Effect{
		Kind:     EffectReply,
		Text:     fmt.Sprintf("How often should I send new jobs for %q?", keyword),
		Keyboard: Keyboard{row},
	}
}

func reply(text string) Effect { return Effect{Kind: EffectReply, Text: text} }

// Transition computes the next session and the effect of ev. freshID is used
// as the id of a newly started flow.
func Transition(s session.Session, ev Event, freshID string) (session.Session, Effect) {
	switch e := ev.(type) {
	case CommandEvent:
		return onCommand(s, e, freshID)
	case TextEvent:
		return onText(s, e)
	case ButtonEvent:
		return onButton(s, e)
	}
	return s, reply(UnknownCommandText)
}

func onCommand(s session.Session, e CommandEvent, freshID string) (session.Session, Effect) {
	idle := session.Session{Step: session.StepIdle}

	switch e.Name {
	case CmdStart, CmdHelp:
		return s, reply(UsageText)

	case CmdSubscribe:
		kw, prompt := subscribeKeyword(e.Args)
		if prompt == "" {
			next := session.Session{ID: freshID, Step: session.StepAwaitingFrequency, Flow: session.FlowSubscribe, Keyword: kw}
			return next, chooseFrequency(kw, freshID)
		}
		next := session.Session{ID: freshID, Step: session.StepAwaitingKeyword, Flow: session.FlowSubscribe}
		return next, reply(prompt)

	case CmdUnsubscribe:
		if kw := subscription.NormalizeKeyword(e.Args); kw != "" {
			return idle, Effect{Kind: EffectUnsubscribe, Keyword: kw}
		}
		next := session.Session{ID: freshID, Step: session.StepAwaitingKeyword, Flow: session.FlowUnsubscribe}
		return next, reply(PromptUnsubscribeKeyword)

	case CmdMyInfo, CmdList:
		return s, Effect{Kind: EffectList}

	case CmdCancel:
		if s.Idle() {
			return idle, reply(NothingToCancelText)
		}
		return idle, reply(CancelledText)
	}
	return s, reply(UnknownCommandText)
}

func onText(s session.Session, e TextEvent) (session.Session, Effect) {
	kw := subscription.NormalizeKeyword(e.Text)

	switch {
	case s.Step == session.StepAwaitingKeyword && s.Flow == session.FlowSubscribe:
		word, prompt := subscribeKeyword(e.Text)
		if prompt != "" {
			return s, reply(prompt)
		}
		next := s
		next.Step = session.StepAwaitingFrequency
		next.Keyword = word
		return next, chooseFrequency(word, s.ID)

	case s.Step == session.StepAwaitingKeyword && s.Flow == session.FlowUnsubscribe:
		if kw == "" {
			return s, reply(PromptUnsubscribeKeyword)
		}
		return session.Session{Step: session.StepIdle}, Effect{Kind: EffectUnsubscribe, Keyword: kw}

	case s.Step == session.StepAwaitingFrequency:
		return s, reply(PromptUseButtons)
	}
	return s, reply(IdleHint)
}

// subscribeKeyword normalizes raw for the subscribe flow. A non-empty prompt
// means raw was rejected and the user should be asked again.
func subscribeKeyword(raw string) (string, string) {
	kw, err := subscription.ValidateKeyword(raw)
	switch {
	case err == nil:
		return kw, ""
	case subscription.NormalizeKeyword(raw) == "":
		return "", PromptSubscribeKeyword
	}
	msg := err.Error()
	return "", strings.ToUpper(msg[:1]) + msg[1:] + ". " + PromptSubscribeKeyword
}

func onButton(s session.Session, e ButtonEvent) (session.Session, Effect) {
	freq, sessionID, err := ParseFrequencyButton(e.Data)
	if err != nil || s.Step != session.StepAwaitingFrequency || s.ID == "" || sessionID != s.ID {
		return s, Effect{Kind: EffectRejectButton, Text: ExpiredSelectionText}
	}
	return session.Session{Step: session.StepIdle}, Effect{
		Kind:      EffectSubscribe,
		Keyword:   s.Keyword,
		Frequency: freq,
	}
}
