// Package identity reconciles the two message identifier spaces used by the
// reporting endpoint (message ids and action ids) into one canonical message
// identity.
package identity

import (
	"strings"

	"github.com/sells-group/flow-analytics/internal/model"
)

// Outcome describes how a report row was resolved.
type Outcome int

const (
	// Resolved means the row matched a canonical message.
	Resolved Outcome = iota
	// Synthesized means no canonical message matched and the raw id was used.
	Synthesized
	// DroppedChannel means the resolved channel is not email.
	DroppedChannel
	// DroppedUnidentifiable means the row has neither a message nor an action id.
	DroppedUnidentifiable
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Synthesized:
		return "synthesized"
	case DroppedChannel:
		return "dropped_channel"
	case DroppedUnidentifiable:
		return "dropped_unidentifiable"
	default:
		return "unknown"
	}
}

// Kept reports whether a row with this outcome belongs in the output.
func (o Outcome) Kept() bool {
	return o == Resolved || o == Synthesized
}

// Identity is the canonical identity of a reported message.
type Identity struct {
	MessageID string
	Name      string
	Channel   string
	// RawID is the upstream id the row was keyed by when synthesized.
	RawID string
}

// Resolver is a lookup table built once per request. It is not safe for
// concurrent mutation; Register must not race with Resolve.
type Resolver struct {
	byMessageID map[string]model.FlowMessage
	byActionID  map[string]string
}

// NewResolver indexes the canonical messages of every flow.
func NewResolver(messages []model.FlowMessage) *Resolver {
	r := &Resolver{
		byMessageID: make(map[string]model.FlowMessage, len(messages)),
		byActionID:  make(map[string]string, len(messages)),
	}
	for _, m := range messages {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a canonical message, e.g. after a metadata backfill.
func (r *Resolver) Register(m model.FlowMessage) {
	if m.ID == "" {
		return
	}
	r.byMessageID[m.ID] = m
	if m.ActionID != "" {
		r.byActionID[m.ActionID] = m.ID
	}
}

// Len returns the number of canonical messages known to the resolver.
func (r *Resolver) Len() int {
	return len(r.byMessageID)
}

// Resolve maps a report row to its canonical identity. Action ids are tried
// first, then message ids; when neither matches, the raw id stands in as both
// id and display name.
func (r *Resolver) Resolve(row model.ReportRow) (Identity, Outcome) {
	if row.ActionID == "" && row.MessageID == "" {
		return Identity{}, DroppedUnidentifiable
	}

	if m, ok := r.match(row); ok {
		id := Identity{
			MessageID: m.ID,
			Name:      m.Name,
			Channel:   channelOf(m.Channel, row.Channel),
		}
		if id.Name == "" {
			id.Name = m.ID
		}
		if !isEmail(id.Channel) {
			return id, DroppedChannel
		}
		return id, Resolved
	}

	raw := row.MessageID
	if raw == "" {
		raw = row.ActionID
	}
	id := Identity{
		MessageID: raw,
		Name:      raw,
		Channel:   channelOf("", row.Channel),
		RawID:     raw,
	}
	if !isEmail(id.Channel) {
		return id, DroppedChannel
	}
	return id, Synthesized
}

func (r *Resolver) match(row model.ReportRow) (model.FlowMessage, bool) {
	if row.ActionID != "" {
		if msgID, ok := r.byActionID[row.ActionID]; ok {
			if m, ok := r.byMessageID[msgID]; ok {
				return m, true
			}
		}
	}
	if row.MessageID != "" {
		if m, ok := r.byMessageID[row.MessageID]; ok {
			return m, true
		}
		// Some report rows carry the action id in the message column.
		if msgID, ok := r.byActionID[row.MessageID]; ok {
			if m, ok := r.byMessageID[msgID]; ok {
				return m, true
			}
		}
	}
	return model.FlowMessage{}, false
}

func channelOf(canonical, reported string) string {
	if canonical != "" {
		return strings.ToLower(canonical)
	}
	if reported != "" {
		return strings.ToLower(reported)
	}
	return model.ChannelEmail
}

func isEmail(channel string) bool {
	return channel == model.ChannelEmail
}
