package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Wire message types. Frames carrying any other type are dropped without
// an error reply; ignoring unknown types is deliberate so older servers
// tolerate newer clients.
const (
	typeCard       = "card"
	typeBackground = "background"
	typeClear      = "clear"
	typeError      = "error"
)

// Background colors must be "#" plus exactly 3 or 6 hex digits.
var hexColor = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

var errUnknownType = errors.New("unknown message type")

// message is the envelope for every room frame. Type selects which payload
// field is meaningful; the card payload is opaque to the server.
type message struct {
	Type            string          `json:"type"`
	Card            json.RawMessage `json:"card,omitempty"`
	BackgroundColor string          `json:"backgroundColor,omitempty"`
	Text            string          `json:"message,omitempty"`
}

// parseMessage decodes a raw frame and checks its structural shape. It never
// inspects the card payload beyond presence.
func parseMessage(raw []byte) (message, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return message{}, fmt.Errorf("parse message: %w", err)
	}
	switch m.Type {
	case typeCard:
		if len(m.Card) == 0 {
			return message{}, errors.New("card message without card payload")
		}
	case typeBackground, typeClear, typeError:
	default:
		return message{}, errUnknownType
	}
	return m, nil
}

// validateMessage checks semantic constraints on a structurally valid
// message. Only background messages carry one: the hex color grammar.
func validateMessage(m message) error {
	if m.Type == typeBackground && !hexColor.MatchString(m.BackgroundColor) {
		return fmt.Errorf("invalid background color %q", m.BackgroundColor)
	}
	return nil
}

// serializeMessage rebuilds the outbound frame from the recognized fields
// only, so extra keys a client sent never reach the rest of the room.
// Round-trips with parseMessage for all four message types.
func serializeMessage(m message) []byte {
	out := message{Type: m.Type}
	switch m.Type {
	case typeCard:
		out.Card = m.Card
	case typeBackground:
		out.BackgroundColor = m.BackgroundColor
	case typeError:
		out.Text = m.Text
	}
	b, err := json.Marshal(out)
	if err != nil {
		// message marshals from plain strings and pre-validated raw JSON.
		panic(fmt.Sprintf("serialize message: %v", err))
	}
	return b
}

func errorMessage(text string) message {
	return message{Type: typeError, Text: text}
}
