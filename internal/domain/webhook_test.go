package domain

import (
	"encoding/json"
	"testing"
)

func TestMessagingKind(t *testing.T) {
	empty := ""
	hi := "hi"
	cases := []struct {
		name string
		m    Messaging
		want MessagingKind
	}{
		{"postback wins", Messaging{Postback: &Postback{Payload: "GET_STARTED"}, Message: &Message{Text: &hi}}, KindPostback},
		{"no message", Messaging{}, KindUnrecognized},
		{"text", Messaging{Message: &Message{Text: &hi}}, KindText},
		{"empty text is still text", Messaging{Message: &Message{Text: &empty}}, KindText},
		{"text wins over attachments", Messaging{Message: &Message{Text: &hi, Attachments: []Attachment{{Type: "image"}}}}, KindText},
		{"attachments", Messaging{Message: &Message{Attachments: []Attachment{{Type: "file"}}}}, KindAttachments},
		{"bare message", Messaging{Message: &Message{MID: "m1"}}, KindUnrecognized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Kind(); got != tc.want {
				t.Fatalf("Kind() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInboundEvent_Decode(t *testing.T) {
	raw := `{"object":"page","entry":[{"id":"p1","time":1,"messaging":[
		{"sender":{"id":"42"},"recipient":{"id":"p1"},"message":{"mid":"m.1","attachments":[
			{"type":"image","payload":{"url":"http://x/test.jpg?sig=1"}}]}}]}]}`

	var ev InboundEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ev.Entry) != 1 || len(ev.Entry[0].Messaging) != 1 {
		t.Fatalf("unexpected shape: %+v", ev)
	}
	m := ev.Entry[0].Messaging[0]
	if m.Sender.ID != "42" || m.Kind() != KindAttachments {
		t.Fatalf("unexpected messaging: %+v", m)
	}
	a := m.Message.Attachments[0]
	if !a.IsImage() || a.Payload.URL != "http://x/test.jpg?sig=1" {
		t.Fatalf("unexpected attachment: %+v", a)
	}
}
