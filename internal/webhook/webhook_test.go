package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/dedupe"
	"dinein-commerce/internal/flows"
	"dinein-commerce/internal/whatsapp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "entry-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "250700000000", "phone_number_id": "12345"},
        "messages": [
          {"id": "wamid.1", "from": "250788000000", "type": "text", "text": {"body": "STOP"}},
          {"id": "wamid.2", "from": "250788000000", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "order:o-1", "title": "#AB12CD"}}},
          {"id": "wamid.3", "from": "250788000000", "type": "location",
           "location": {"latitude": -1.95, "longitude": 30.06, "name": "Kimihurura"}},
          {"id": "wamid.4", "from": "250788000000", "type": "document",
           "document": {"id": "media-9", "mime_type": "application/pdf", "caption": "menu"}},
          {"id": "wamid.5", "from": "250788000000", "type": "reaction"},
          {"id": "wamid.6", "from": "not-a-number", "type": "text", "text": {"body": "hi"}}
        ]
      }
    }]
  }]
}`

// ==========================
// Parsing
// ==========================

func TestParse(t *testing.T) {
	msgs, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, "wamid.1", msgs[0].MessageID)
	assert.Equal(t, "+250788000000", msgs[0].Input.SubjectID)
	assert.Equal(t, "STOP", msgs[0].Input.Text)

	assert.Equal(t, "order:o-1", msgs[1].Input.ReplyID)
	assert.Equal(t, "order:o-1", msgs[1].Input.Command())

	require.NotNil(t, msgs[2].Input.Location)
	assert.InDelta(t, 30.06, msgs[2].Input.Location.Longitude, 1e-9)

	assert.Equal(t, "media-9", msgs[3].Input.MediaID)
	assert.Equal(t, "application/pdf", msgs[3].Input.MimeType)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"entry": [`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(payload)
	sig := Sign("super-secret", body)

	assert.True(t, VerifySignature("super-secret", body, sig))
	assert.False(t, VerifySignature("other-secret", body, sig))
	assert.False(t, VerifySignature("super-secret", body, "sha256=zz"))
	assert.False(t, VerifySignature("super-secret", body, ""))
	assert.True(t, VerifySignature("", body, ""))
}

func TestHandshake(t *testing.T) {
	challenge, ok := Handshake("tok", "subscribe", "tok", "12345")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)

	_, ok = Handshake("tok", "subscribe", "wrong", "12345")
	assert.False(t, ok)
	_, ok = Handshake("tok", "unsubscribe", "tok", "12345")
	assert.False(t, ok)
	_, ok = Handshake("", "subscribe", "", "12345")
	assert.False(t, ok)
}

// ==========================
// Dispatch
// ==========================

type scriptedConversation struct {
	replies []flows.Reply
	err     error
	calls   int
}

func (c *scriptedConversation) Handle(context.Context, flows.Input) ([]flows.Reply, error) {
	c.calls++
	return c.replies, c.err
}

type sent struct {
	kind string
	to   string
	body string
}

type recordingSender struct {
	sent []sent
	fail bool
}

func (s *recordingSender) record(kind, to, body string) (string, error) {
	if s.fail {
		return "", errors.New("graph down")
	}
	s.sent = append(s.sent, sent{kind, to, body})
	return "wamid.out", nil
}

func (s *recordingSender) SendText(_ context.Context, to, body string) (string, error) {
	return s.record("text", to, body)
}

func (s *recordingSender) SendButtons(_ context.Context, to, body string, _ []whatsapp.Button) (string, error) {
	return s.record("buttons", to, body)
}

func (s *recordingSender) SendList(_ context.Context, to string, l whatsapp.List) (string, error) {
	return s.record("list", to, l.Body)
}

func (s *recordingSender) SendFlow(_ context.Context, to string, f whatsapp.Flow) (string, error) {
	return s.record("flow", to, f.Name)
}

func inbound(id string) Inbound {
	return Inbound{MessageID: id, Type: "text", Input: flows.Input{SubjectID: "+250788000000", Text: "hi"}}
}

func TestDispatch_SendsEachReplyKind(t *testing.T) {
	conv := &scriptedConversation{replies: []flows.Reply{
		{Text: "plain"},
		{Text: "choose", Buttons: []flows.Option{{ID: "a", Title: "A"}}},
		{Text: "pick", ListTitle: "Bars", Rows: []flows.Option{{ID: "venue:1", Title: "One"}}},
		{Text: "menu", Flow: &flows.FlowLaunch{FlowID: "flow.cust.bar_menu.v1", Screen: "s_categories", CTA: "View menu"}},
	}}
	sender := &recordingSender{}
	d := NewDispatcher(conv, sender, dedupe.NewMemoryGuard(time.Hour, nil), logger.NewTestLogger(t))

	require.NoError(t, d.Dispatch(context.Background(), inbound("wamid.1")))
	require.Len(t, sender.sent, 4)
	assert.Equal(t, []string{"text", "buttons", "list", "flow"},
		[]string{sender.sent[0].kind, sender.sent[1].kind, sender.sent[2].kind, sender.sent[3].kind})
	assert.Equal(t, "flow.cust.bar_menu.v1", sender.sent[3].body)
	assert.Equal(t, "+250788000000", sender.sent[0].to)
}

func TestDispatch_SkipsDuplicates(t *testing.T) {
	conv := &scriptedConversation{replies: []flows.Reply{{Text: "once"}}}
	sender := &recordingSender{}
	d := NewDispatcher(conv, sender, dedupe.NewMemoryGuard(time.Hour, nil), logger.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, inbound("wamid.1")))
	require.NoError(t, d.Dispatch(ctx, inbound("wamid.1")))
	assert.Equal(t, 1, conv.calls)
	assert.Len(t, sender.sent, 1)
}

func TestDispatch_ReleasesClaimOnFailure(t *testing.T) {
	conv := &scriptedConversation{replies: []flows.Reply{{Text: "hello"}}}
	sender := &recordingSender{fail: true}
	d := NewDispatcher(conv, sender, dedupe.NewMemoryGuard(time.Hour, nil), logger.NewTestLogger(t))
	ctx := context.Background()

	assert.Error(t, d.Dispatch(ctx, inbound("wamid.fail")))

	sender.fail = false
	require.NoError(t, d.Dispatch(ctx, inbound("wamid.fail")))
	assert.Equal(t, 2, conv.calls)
	assert.Len(t, sender.sent, 1)
}
