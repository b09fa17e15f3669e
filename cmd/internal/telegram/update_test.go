package telegram

import "testing"

func TestParseUpdate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		raw    string
		reason string
		want   parsedMessage
	}{
		{
			name: "full",
			raw:  `{"update_id":1,"message":{"message_id":42,"chat":{"id":-1002027760235,"type":"supergroup"},"from":{"id":7,"username":"seller","first_name":"Ali"},"text":"Pride 2010 for sale"}}`,
			want: parsedMessage{MessageID: 42, ChatID: -1002027760235, Text: "Pride 2010 for sale", FromUsername: "seller", FromFirstName: "Ali"},
		},
		{
			name: "no sender",
			raw:  `{"message":{"message_id":1,"chat":{"id":5},"text":"hi"}}`,
			want: parsedMessage{MessageID: 1, ChatID: 5, Text: "hi"},
		},
		{name: "empty body", raw: ``, reason: ReasonMalformed},
		{name: "not json", raw: `hello`, reason: ReasonMalformed},
		{name: "array", raw: `[1,2]`, reason: ReasonMalformed},
		{name: "truncated", raw: `{"message":{"message_id":1`, reason: ReasonMalformed},
		{name: "string id", raw: `{"message":{"message_id":"1","chat":{"id":5},"text":"hi"}}`, reason: ReasonMalformed},
		{name: "fractional id", raw: `{"message":{"message_id":1.5,"chat":{"id":5},"text":"hi"}}`, reason: ReasonMalformed},
		{name: "edited message only", raw: `{"edited_message":{"message_id":1,"chat":{"id":5},"text":"hi"}}`, reason: ReasonNoMessage},
		{name: "null message", raw: `{"message":null}`, reason: ReasonNoMessage},
		{name: "missing id", raw: `{"message":{"chat":{"id":5},"text":"hi"}}`, reason: ReasonMissingID},
		{name: "missing chat", raw: `{"message":{"message_id":1,"text":"hi"}}`, reason: ReasonMissingChat},
		{name: "missing chat id", raw: `{"message":{"message_id":1,"chat":{},"text":"hi"}}`, reason: ReasonMissingChat},
		{name: "photo without text", raw: `{"message":{"message_id":1,"chat":{"id":5},"photo":[]}}`, reason: ReasonEmptyText},
		{name: "blank text", raw: `{"message":{"message_id":1,"chat":{"id":5},"text":" \n\t"}}`, reason: ReasonEmptyText},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, reason := parseUpdate([]byte(tc.raw))
			if reason != tc.reason {
				t.Fatalf("reason=%q want=%q", reason, tc.reason)
			}
			if tc.reason == "" && got != tc.want {
				t.Fatalf("got=%+v want=%+v", got, tc.want)
			}
		})
	}
}
