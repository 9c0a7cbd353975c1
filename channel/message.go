package channel

import (
	"encoding/json"
	"fmt"
)

// Message is the in-memory record for one JSON value exchanged over a
// channel. On the wire it is normally the two-element array [id, body];
// see spec.md §3 and §6.
//
// A message originating at Vim has ID >= 1. A message originating locally,
// as an unsolicited command awaiting a reply, uses ID <= -1. ID == 0 means
// the raw wire value was not a two-element [id, body] array and Body holds
// the whole decoded value instead.
type Message struct {
	ID   int
	Body json.RawMessage
}

// MarshalJSON encodes m as the two-element array [id, body].
func (m Message) MarshalJSON() ([]byte, error) {
	body := m.Body
	if body == nil {
		body = json.RawMessage("null")
	}
	return json.Marshal([2]json.RawMessage{
		mustMarshalInt(m.ID),
		body,
	})
}

func mustMarshalInt(i int) json.RawMessage {
	b, err := json.Marshal(i)
	if err != nil {
		// int always marshals.
		panic(err)
	}
	return b
}

// decodeMessage converts a single decoded top-level JSON value into a
// Message, following the routing rule in spec.md §4.4: a two-element array
// whose first element is a JSON integer becomes {id, body}; anything else
// becomes {id: 0, body: <the whole value>}.
func decodeMessage(raw json.RawMessage) Message {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		var id int
		if err := json.Unmarshal(arr[0], &id); err == nil {
			return Message{ID: id, Body: arr[1]}
		}
	}
	return Message{ID: 0, Body: raw}
}

// encodeReply builds the wire bytes for a reply to msg carrying body.
func encodeReply(msg Message, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("channel: failed to marshal reply body: %w", err)
	}
	return json.Marshal([2]json.RawMessage{mustMarshalInt(msg.ID), b})
}
