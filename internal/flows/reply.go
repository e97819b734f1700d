// Package flows runs the free-text and button conversations: onboarding, menu review,
// number management, venue discovery and vendor order handling.
package flows

import (
	"strconv"
	"strings"
)

// PageSize is the number of rows on a paginated list screen. A tenth row is kept for navigation.
const PageSize = 9

// Reserved reply ids understood on every screen.
const (
	IDBack = "back"
	IDHome = "home"
	IDMore = "more"
)

// Location is a shared pin.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Input is one normalised inbound message.
type Input struct {
	SubjectID string
	Text      string
	ReplyID   string // button or list row id
	Location  *Location
	MediaID   string
	MimeType  string
}

// Command is the reply id, or the trimmed lower-cased text when no reply id is present.
func (in Input) Command() string {
	if in.ReplyID != "" {
		return in.ReplyID
	}
	return strings.ToLower(strings.TrimSpace(in.Text))
}

type Option struct {
	ID          string
	Title       string
	Description string
}

// FlowLaunch opens a structured exchange flow on the client.
type FlowLaunch struct {
	FlowID string
	Screen string
	CTA    string
	Data   map[string]interface{}
}

// Reply is one outbound message. Buttons and Rows are mutually exclusive.
type Reply struct {
	Text       string
	Buttons    []Option
	ListTitle  string
	ListButton string
	Rows       []Option
	Flow       *FlowLaunch
}

func text(body string) Reply { return Reply{Text: body} }

func buttons(body string, opts ...Option) Reply { return Reply{Text: body, Buttons: opts} }

func list(title, body string, rows []Option) Reply {
	return Reply{Text: body, ListTitle: title, ListButton: "View", Rows: rows}
}

// pageRows appends the navigation row: "More" when another page exists, otherwise "Back".
func pageRows(rows []Option, more bool) []Option {
	if more {
		return append(rows, Option{ID: IDMore, Title: "More ➡️"})
	}
	return append(rows, Option{ID: IDBack, Title: "← Back"})
}

// rowID builds "prefix:id" list row ids.
func rowID(prefix, id string) string { return prefix + ":" + id }

// parseRow returns the id in "prefix:id".
func parseRow(cmd, prefix string) (string, bool) {
	if !strings.HasPrefix(cmd, prefix+":") {
		return "", false
	}
	id := cmd[len(prefix)+1:]
	return id, id != ""
}

// pick resolves a typed row number ("3") against the ids shown on the page.
func pick(cmd string, ids []string) (string, bool) {
	n, err := strconv.Atoi(cmd)
	if err != nil || n < 1 || n > len(ids) {
		return "", false
	}
	return ids[n-1], true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
