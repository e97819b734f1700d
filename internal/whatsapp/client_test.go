package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dinein-commerce/internal/common/config"
	commonhttp "dinein-commerce/internal/common/http"
	"dinein-commerce/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graph records each request body and answers with a message id.
type graph struct {
	bodies []map[string]interface{}
	status int
}

func (g *graph) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PHONE1/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		g.bodies = append(g.bodies, body)
		if g.status != 0 {
			w.WriteHeader(g.status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, g *graph) *Client {
	srv := g.server(t)
	return NewClient(config.WhatsAppConfig{
		BaseURL:       srv.URL + "/",
		PhoneNumberID: "PHONE1",
		AccessToken:   "secret",
		Timeout:       2000,
	}, logger.NewTestLogger(t))
}

func path(m map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = m
	for _, k := range keys {
		cur = cur.(map[string]interface{})[k]
	}
	return cur
}

// ==========================
// Plain messages
// ==========================

func TestSendText(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	id, err := c.SendText(context.Background(), "+250788000111", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)

	body := g.bodies[0]
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "250788000111", body["to"])
	assert.Equal(t, "hello", path(body, "text", "body"))
}

func TestSendTemplate(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	_, err := c.SendTemplate(context.Background(), "+250788000111", "order_paid_customer", "", []string{"AB12CD", "5,000 RWF"})
	require.NoError(t, err)

	tpl := g.bodies[0]["template"].(map[string]interface{})
	assert.Equal(t, "order_paid_customer", tpl["name"])
	assert.Equal(t, "en", path(tpl, "language", "code"))
	params := tpl["components"].([]interface{})[0].(map[string]interface{})["parameters"].([]interface{})
	require.Len(t, params, 2)
	assert.Equal(t, "AB12CD", params[0].(map[string]interface{})["text"])
}

func TestSend_ErrorStatusIsClassified(t *testing.T) {
	g := &graph{status: http.StatusBadRequest}
	c := newClient(t, g)

	_, err := c.SendText(context.Background(), "+250788000111", "hello")
	var se *commonhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
}

// ==========================
// Interactive messages
// ==========================

func TestSendButtons_TruncatesToThree(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	_, err := c.SendButtons(context.Background(), "+250788000111", "Pick one", []Button{
		{ID: "a", Title: "Alpha"}, {ID: "b", Title: "A very long button title indeed"}, {ID: "c", Title: "C"}, {ID: "d", Title: "D"},
	})
	require.NoError(t, err)

	interactive := g.bodies[0]["interactive"].(map[string]interface{})
	assert.Equal(t, "button", interactive["type"])
	buttons := path(interactive, "action", "buttons").([]interface{})
	require.Len(t, buttons, MaxButtons)
	title := path(buttons[1].(map[string]interface{}), "reply", "title").(string)
	assert.Equal(t, buttonTitleMax, len([]rune(title)))
	assert.True(t, strings.HasSuffix(title, "…"))
}

func TestSendList(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	rows := make([]Row, 12)
	for i := range rows {
		rows[i] = Row{ID: "r", Title: "Row"}
	}
	_, err := c.SendList(context.Background(), "+250788000111", List{Header: "Orders", Body: "Open orders", Rows: rows})
	require.NoError(t, err)

	interactive := g.bodies[0]["interactive"].(map[string]interface{})
	assert.Equal(t, "list", interactive["type"])
	assert.Equal(t, "View", path(interactive, "action", "button"))
	sections := path(interactive, "action", "sections").([]interface{})
	assert.Len(t, sections[0].(map[string]interface{})["rows"], MaxRows)
}

func TestSendFlow(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	_, err := c.SendFlow(context.Background(), "+250788000111", Flow{
		Name: "flow.cust.bar_menu.v1", Screen: "s_categories", CTA: "View menu",
		Data: map[string]interface{}{"bar_id": "venue-1"},
	})
	require.NoError(t, err)

	params := path(g.bodies[0], "interactive", "action", "parameters").(map[string]interface{})
	assert.Equal(t, "flow.cust.bar_menu.v1", params["flow_name"])
	assert.Equal(t, "navigate", params["flow_action"])
	assert.Equal(t, "venue-1", path(params, "flow_action_payload", "data", "bar_id"))
	assert.Equal(t, "View menu", path(g.bodies[0], "interactive", "body", "text"))
}

func TestSendButtons_NoneFallsBackToText(t *testing.T) {
	g := &graph{}
	c := newClient(t, g)

	_, err := c.SendButtons(context.Background(), "+250788000111", "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "text", g.bodies[0]["type"])
}
