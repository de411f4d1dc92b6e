package chat

import (
	"encoding/json"
	"fmt"
	"io"
)

// Fragment is one item of a reply stream: any number of Delta items followed
// by exactly one terminal Done or StreamError.
type Fragment interface {
	terminal() bool
}

type Delta struct {
	Text string `json:"delta"`
}

// Done carries the concatenation of every Delta emitted before it.
type Done struct {
	Response string `json:"response"`
	RoleID   string `json:"ai_role"`
	RoleName string `json:"role_name"`
}

type StreamError struct {
	Message string `json:"error"`
}

func (Delta) terminal() bool       { return false }
func (Done) terminal() bool        { return true }
func (StreamError) terminal() bool { return true }

func (d Done) MarshalJSON() ([]byte, error) {
	type body Done
	return json.Marshal(struct {
		Done bool `json:"done"`
		body
	}{true, body(d)})
}

// WriteSSE encodes f as a single Server-Sent-Events "data:" line followed by a blank line.
func WriteSSE(w io.Writer, f Fragment) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
