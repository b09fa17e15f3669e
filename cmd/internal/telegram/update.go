package telegram

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Rejection reasons reported in Outcome.Reason and the ingest metric.
const (
	ReasonMalformed      = "malformed"
	ReasonNoMessage      = "no_message"
	ReasonMissingID      = "missing_message_id"
	ReasonMissingChat    = "missing_chat_id"
	ReasonChatNotAllowed = "chat_not_allowed"
	ReasonEmptyText      = "empty_text"
	ReasonBadSecret      = "bad_secret"
	ReasonStoreError     = "store_error"
	ReasonMethod         = "method_not_allowed"
)

// update is the subset of a Bot API Update the gateway reads.
// Pointers distinguish absent fields from zero values.
type update struct {
	Message *message `json:"message"`
}

type message struct {
	MessageID *int64  `json:"message_id"`
	Chat      *chat   `json:"chat"`
	From      *user   `json:"from"`
	Text      *string `json:"text"`
}

type chat struct {
	ID *int64 `json:"id"`
}

type user struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// parsedMessage is a validated text message.
type parsedMessage struct {
	MessageID     int64
	ChatID        int64
	Text          string
	FromUsername  string
	FromFirstName string
}

// parseUpdate validates raw and returns the message, or a rejection reason.
// Channel filtering is left to the caller.
func parseUpdate(raw []byte) (parsedMessage, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return parsedMessage{}, ReasonMalformed
	}

	var u update
	if err := json.Unmarshal(raw, &u); err != nil {
		return parsedMessage{}, ReasonMalformed
	}

	m := u.Message
	switch {
	case m == nil:
		return parsedMessage{}, ReasonNoMessage
	case m.MessageID == nil:
		return parsedMessage{}, ReasonMissingID
	case m.Chat == nil || m.Chat.ID == nil:
		return parsedMessage{}, ReasonMissingChat
	case m.Text == nil || strings.TrimSpace(*m.Text) == "":
		return parsedMessage{}, ReasonEmptyText
	}

	out := parsedMessage{
		MessageID: *m.MessageID,
		ChatID:    *m.Chat.ID,
		Text:      *m.Text,
	}
	if m.From != nil {
		out.FromUsername = m.From.Username
		out.FromFirstName = m.From.FirstName
	}
	return out, ""
}
