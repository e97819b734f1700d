// Package exchange serves the structured-screen protocol: every request names a flow, the
// screen the client is on and the action the user took, and gets back the next screen.
package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/common/validation"
	"dinein-commerce/internal/dedupe"
	"dinein-commerce/pkg/registry"
)

// Flow ids served by this package.
const (
	FlowCustomerMenu  = "flow.cust.bar_menu.v1"
	FlowVendorOnboard = "flow.vend.onboard.v1"
	FlowVendorOrders  = "flow.vend.orders.v1"
)

// PageSize is the number of rows per exchange list page.
const PageSize = 10

type Request struct {
	FlowID    string                 `json:"flow_id"`
	ScreenID  string                 `json:"screen_id"`
	ActionID  string                 `json:"action_id"`
	WaID      string                 `json:"wa_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	PageToken string                 `json:"page_token,omitempty"`
}

// Message levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type Response struct {
	NextScreenID string                 `json:"next_screen_id"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Messages     []Message              `json:"messages,omitempty"`
}

// Handler serves one flow. It dispatches on the action id and returns domain errors for the
// router to turn into messages.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// stayOn answers with the current screen and a single message.
func stayOn(req *Request, level, text string) *Response {
	return &Response{NextScreenID: req.ScreenID, Messages: []Message{{Level: level, Text: text}}}
}

func unknownAction(req *Request) *Response {
	return stayOn(req, LevelWarning, "Unknown action "+req.ActionID)
}

// ==========================
// Page tokens
// ==========================

type pageToken struct {
	Offset int `json:"offset"`
}

// EncodePageToken returns the opaque token for offset.
func EncodePageToken(offset int) string {
	raw, _ := json.Marshal(pageToken{Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePageToken returns the offset in token. Absent, malformed or negative tokens decode to 0.
func DecodePageToken(token string) int {
	if token == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil || pt.Offset < 0 {
		return 0
	}
	return pt.Offset
}

// pageTokens builds the next/prev tokens for a list page. Unused directions are nil.
func pageTokens(offset int, more bool) (next, prev interface{}) {
	if more {
		next = EncodePageToken(offset + PageSize)
	}
	if offset > 0 {
		p := offset - PageSize
		if p < 0 {
			p = 0
		}
		prev = EncodePageToken(p)
	}
	return next, prev
}

// ==========================
// Field helpers
// ==========================

// str reads a trimmed string field; numbers are formatted.
func str(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// integer reads an integer field sent as a number or a numeric string.
func integer(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// barID resolves the venue from fields, then filters, then context.
func barID(req *Request) string {
	for _, m := range []map[string]interface{}{req.Fields, req.Filters, req.Context} {
		if id := str(m, "bar_id"); id != "" {
			return id
		}
	}
	return ""
}

// ==========================
// Router
// ==========================

// Router maps flow ids to handlers. Actions the registry marks as mutating are deduplicated on
// request_id, and their fields are checked against the registry schema first.
type Router struct {
	handlers map[string]Handler
	registry *registry.FlowRegistry
	schemas  map[string]*validation.Schema
	guard    dedupe.Guard
	logger   logger.Logger
}

// NewRouter compiles the fields schema of every registry action.
func NewRouter(reg *registry.FlowRegistry, guard dedupe.Guard, log logger.Logger) (*Router, error) {
	r := &Router{
		handlers: make(map[string]Handler),
		registry: reg,
		schemas:  make(map[string]*validation.Schema),
		guard:    guard,
		logger:   log.WithFields(map[string]interface{}{"component": "exchange"}),
	}
	if reg == nil {
		return r, nil
	}
	for _, flow := range reg.Flows {
		for _, action := range flow.Actions {
			if action.FieldsSchema == nil {
				continue
			}
			s, err := validation.Compile(action.FieldsSchema)
			if err != nil {
				return nil, fmt.Errorf("flow %s action %s: %w", flow.ID, action.ID, err)
			}
			r.schemas[flow.ID+"/"+action.ID] = s
		}
	}
	return r, nil
}

// Register binds a handler to a flow id.
func (r *Router) Register(flowID string, h Handler) {
	r.handlers[flowID] = h
}

// Handle never fails: every problem becomes a message on the current screen.
func (r *Router) Handle(ctx context.Context, req *Request) *Response {
	log := r.logger.WithFields(map[string]interface{}{
		"flowId":   req.FlowID,
		"screenId": req.ScreenID,
		"actionId": req.ActionID,
		"waId":     logger.MaskPhone(req.WaID),
	})

	if req.FlowID == "" || req.ActionID == "" {
		log.Warn("malformed exchange request", nil)
		metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "malformed").Inc()
		return stayOn(req, LevelWarning, "Malformed request")
	}
	h, ok := r.handlers[req.FlowID]
	if !ok {
		log.Warn("unknown flow", nil)
		metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "unknown_flow").Inc()
		return stayOn(req, LevelWarning, "Unknown flow "+req.FlowID)
	}

	mutating := false
	if r.registry != nil {
		flow, ok := r.registry.Flow(req.FlowID)
		if ok {
			action, ok := flow.Action(req.ActionID)
			if !ok {
				log.Warn("action not in registry", nil)
				metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "unknown_action").Inc()
				return unknownAction(req)
			}
			mutating = action.Mutating
		}
		if resp := r.checkFields(req, log); resp != nil {
			return resp
		}
	}

	var release dedupe.ReleaseFunc
	if mutating && req.RequestID != "" && r.guard != nil {
		rel, fresh, err := r.guard.Claim(ctx, "exchange", req.RequestID)
		if err != nil {
			// Redis down: process anyway rather than refuse every mutating action.
			log.Warn("request dedupe unavailable", map[string]interface{}{"error": err.Error()})
		} else if !fresh {
			log.Info("duplicate exchange request", map[string]interface{}{"requestId": req.RequestID})
			metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "duplicate").Inc()
			return stayOn(req, LevelInfo, "Already processed.")
		} else {
			release = rel
		}
	}

	resp, err := h.Handle(ctx, req)
	if err != nil {
		if release != nil {
			if rerr := release(ctx); rerr != nil {
				log.Warn("failed to release request claim", map[string]interface{}{"error": rerr.Error()})
			}
		}
		return r.failure(req, err, log)
	}
	metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "ok").Inc()
	log.Debug("exchange handled", map[string]interface{}{"nextScreenId": resp.NextScreenID})
	return resp
}

func (r *Router) checkFields(req *Request, log logger.Logger) *Response {
	schema, ok := r.schemas[req.FlowID+"/"+req.ActionID]
	if !ok {
		return nil
	}
	fields := req.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	result, err := schema.Validate(fields)
	if err != nil {
		log.Warn("fields validation failed to run", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if result.Valid {
		return nil
	}
	log.Warn("invalid exchange fields", map[string]interface{}{"errors": result.GetErrorMessages()})
	metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "invalid").Inc()
	return stayOn(req, LevelError, "Invalid fields: "+strings.Join(result.GetErrorMessages(), "; "))
}

// failure maps a handler error onto the current screen. Domain errors keep their message;
// anything else is logged and hidden.
func (r *Router) failure(req *Request, err error, log logger.Logger) *Response {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindValidation, errors.KindNotFound, errors.KindStateConflict, errors.KindPolicyBlocked, errors.KindSecurity:
		log.Info("exchange action rejected", map[string]interface{}{"kind": kind, "error": err.Error()})
		metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, string(kind)).Inc()
		level := LevelError
		if kind == errors.KindPolicyBlocked {
			level = LevelWarning
		}
		return stayOn(req, level, errors.UserMessage(err))
	}
	log.Error("exchange action failed", map[string]interface{}{"error": err.Error()})
	metrics.ExchangeRequests.WithLabelValues(req.FlowID, req.ActionID, "error").Inc()
	return stayOn(req, LevelError, errors.UserMessage(err))
}
