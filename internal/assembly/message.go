// Package assembly reconstructs messages incrementally from part-level
// deltas. Parts are ordered by the sequence assigned when a part ID is
// first observed, not by the arrival order of later deltas.
package assembly

import (
	"encoding/json"
	"sort"
)

type PartType string

const (
	PartText     PartType = "text"
	PartThinking PartType = "thinking"
	PartTool     PartType = "tool"
	PartFile     PartType = "file"
)

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

type Part struct {
	ID       string
	Seq      int
	Type     PartType
	Content  string
	ToolName string
	Status   ToolStatus
	Input    json.RawMessage
	Output   json.RawMessage
	Mime     string
	URL      string
}

// Message is the immutable snapshot handed to collaborators.
type Message struct {
	ID        string
	Role      string
	Agent     string
	Parts     []Part
	Timestamp int64
}

// Streaming is the mutable per-message assembly. It is owned by the
// processor while the message is active; collaborators only ever see
// Snapshot copies.
type Streaming struct {
	id        string
	role      string
	agent     string
	timestamp int64
	parts     map[string]*Part
	nextSeq   int
}

func New(id, role, agent string, timestamp int64) *Streaming {
	return &Streaming{
		id:        id,
		role:      role,
		agent:     agent,
		timestamp: timestamp,
		parts:     make(map[string]*Part),
	}
}

func (s *Streaming) ID() string   { return s.id }
func (s *Streaming) Role() string { return s.role }

func (s *Streaming) part(partID string, typ PartType) *Part {
	p, ok := s.parts[partID]
	if !ok {
		p = &Part{ID: partID, Seq: s.nextSeq, Type: typ}
		s.nextSeq++
		s.parts[partID] = p
	}
	return p
}

// AppendContent accumulates a text or thinking delta. Accumulation is
// append-only; ordering of the part itself is fixed by first sight.
func (s *Streaming) AppendContent(partID string, typ PartType, delta string) {
	p := s.part(partID, typ)
	p.Content += delta
}

// SetFile records a file part. The last delta for a part wins.
func (s *Streaming) SetFile(partID, mime, url string) {
	p := s.part(partID, PartFile)
	if mime != "" {
		p.Mime = mime
	}
	if url != "" {
		p.URL = url
	}
}

// ToolUpdate carries the partial tool fields of a single delta. Zero
// fields leave the existing value untouched.
type ToolUpdate struct {
	ToolName string
	Status   ToolStatus
	Input    json.RawMessage
	Output   json.RawMessage
}

// UpsertTool merges partial tool fields into the part, creating it on
// first sight. Status transitions are not validated; the last write for
// a field wins.
func (s *Streaming) UpsertTool(partID string, upd ToolUpdate) {
	p := s.part(partID, PartTool)
	if upd.ToolName != "" {
		p.ToolName = upd.ToolName
	}
	if upd.Status != "" {
		p.Status = upd.Status
	}
	if upd.Input != nil {
		p.Input = upd.Input
	}
	if upd.Output != nil {
		p.Output = upd.Output
	}
}

// Snapshot renders the parts ordered by sequence into an immutable
// Message copy.
func (s *Streaming) Snapshot() Message {
	parts := make([]Part, 0, len(s.parts))
	for _, p := range s.parts {
		cp := *p
		cp.Input = cloneRaw(p.Input)
		cp.Output = cloneRaw(p.Output)
		parts = append(parts, cp)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Seq < parts[j].Seq })

	return Message{
		ID:        s.id,
		Role:      s.role,
		Agent:     s.agent,
		Parts:     parts,
		Timestamp: s.timestamp,
	}
}

// Reset clears all parts and the sequence counter.
func (s *Streaming) Reset() {
	s.parts = make(map[string]*Part)
	s.nextSeq = 0
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp
}
