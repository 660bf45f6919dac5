package common

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NodeKind discriminates the variants of a graph node.
type NodeKind string

const (
	KindDecision   NodeKind = "decision"
	KindEvent      NodeKind = "event"
	KindTransition NodeKind = "transition"
)

// Relation is the type of a transition between two decisions.
type Relation string

const (
	RelationCausal      Relation = "causal"
	RelationAlternative Relation = "alternative"
	RelationChainNext   Relation = "chain_next"
)

// Base holds the fields every node variant shares.
type Base struct {
	ID        string         `json:"id"`
	Kind      NodeKind       `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Rationale string         `json:"rationale,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Snippet   string         `json:"snippet,omitempty"`
	Extra     map[string]any `json:"x-extra,omitempty"`
}

// DecisionFields are only present on decisions.
type DecisionFields struct {
	DecisionMaker string   `json:"decision_maker,omitempty"`
	Option        string   `json:"option,omitempty"`
	SupportedBy   []string `json:"supported_by,omitempty"`
	BasedOn       []string `json:"based_on,omitempty"`
	Transitions   []string `json:"transitions,omitempty"`
}

// EventFields are only present on events.
type EventFields struct {
	LedTo []string `json:"led_to,omitempty"`
}

// TransitionFields are only present on transitions.
type TransitionFields struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// Node is a decision, an event or a transition.
//
// Exactly one of the variant pointers matching Kind is set. The variant fields
// are flattened into the node's JSON object. Empty or absent link arrays are
// valid: events may not have led to a decision yet and decisions may be the
// first or last in a chain.
type Node struct {
	Base
	*DecisionFields
	*EventFields
	*TransitionFields
}

// NewDecision builds a decision node.
func NewDecision(base Base, fields DecisionFields) Node {
	base.Kind = KindDecision
	return Node{Base: base, DecisionFields: &fields}
}

// NewEvent builds an event node.
func NewEvent(base Base, fields EventFields) Node {
	base.Kind = KindEvent
	return Node{Base: base, EventFields: &fields}
}

// NewTransition builds a transition node.
func NewTransition(base Base, fields TransitionFields) Node {
	base.Kind = KindTransition
	return Node{Base: base, TransitionFields: &fields}
}

func (n *Node) UnmarshalJSON(data []byte) error {
	type nodeAlias Node
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*n = Node(alias)
	n.normalize()
	return nil
}

// normalize makes the variant pointers agree with Kind.
func (n *Node) normalize() {
	switch n.Kind {
	case KindDecision:
		if n.DecisionFields == nil {
			n.DecisionFields = &DecisionFields{}
		}
		n.EventFields, n.TransitionFields = nil, nil
	case KindEvent:
		if n.EventFields == nil {
			n.EventFields = &EventFields{}
		}
		n.DecisionFields, n.TransitionFields = nil, nil
	case KindTransition:
		if n.TransitionFields == nil {
			n.TransitionFields = &TransitionFields{}
		}
		n.DecisionFields, n.EventFields = nil, nil
	}
	n.Timestamp = n.Timestamp.UTC()
}

// Validate checks the structural rules of a single node.
func (n Node) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("node has empty id")
	}
	switch n.Kind {
	case KindDecision:
		if n.DecisionFields == nil {
			return fmt.Errorf("decision %s has no decision fields", n.ID)
		}
	case KindEvent:
		if n.EventFields == nil {
			return fmt.Errorf("event %s has no event fields", n.ID)
		}
	case KindTransition:
		if n.TransitionFields == nil {
			return fmt.Errorf("transition %s has no transition fields", n.ID)
		}
		switch n.Relation {
		case RelationCausal, RelationAlternative, RelationChainNext:
		default:
			return fmt.Errorf("transition %s has unknown relation %q", n.ID, n.Relation)
		}
	default:
		return fmt.Errorf("node %s has unknown type %q", n.ID, n.Kind)
	}
	return nil
}

// Links returns every node id this node references, in field order.
func (n Node) Links() []string {
	var out []string
	switch n.Kind {
	case KindDecision:
		if n.DecisionFields != nil {
			out = append(out, n.SupportedBy...)
			out = append(out, n.BasedOn...)
			out = append(out, n.DecisionFields.Transitions...)
		}
	case KindEvent:
		if n.EventFields != nil {
			out = append(out, n.LedTo...)
		}
	case KindTransition:
		if n.TransitionFields != nil {
			if n.From != "" {
				out = append(out, n.From)
			}
			if n.To != "" {
				out = append(out, n.To)
			}
		}
	}
	return out
}

// Degree is the number of references the node carries.
func (n Node) Degree() int {
	return len(n.Links())
}

// Content joins the free-text fields used for search and similarity.
func (n Node) Content() string {
	parts := []string{n.Rationale, n.Summary, n.Reason, n.Snippet}
	if n.Kind == KindDecision && n.DecisionFields != nil {
		parts = append(parts, n.Option, n.DecisionMaker)
	}
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Headline returns the most descriptive short text of the node.
func (n Node) Headline() string {
	for _, s := range []string{n.Summary, n.Rationale, n.Reason, n.Snippet} {
		if s != "" {
			return s
		}
	}
	return n.ID
}

// ScoredNode is a search hit.
type ScoredNode struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// Direction tells the expander how a neighbour relates to the anchor.
type Direction int

const (
	// Connected covers events and decisions linked to the anchor in either direction.
	Connected Direction = iota
	// Incoming transitions end at the anchor.
	Incoming
	// Outgoing transitions start at the anchor.
	Outgoing
)

func (d Direction) String() string {
	switch d {
	case Connected:
		return "connected"
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Neighbor is a single node reached by a one-hop expansion.
type Neighbor struct {
	Direction Direction
	Node      Node
}

// Candidates is the raw result of a one-hop expansion.
type Candidates struct {
	Events         []Node `json:"events"`
	TransitionsIn  []Node `json:"transitions_in"`
	TransitionsOut []Node `json:"transitions_out"`
	Partial        bool   `json:"partial"`
}

// Len is the number of candidate nodes.
func (c Candidates) Len() int {
	return len(c.Events) + len(c.TransitionsIn) + len(c.TransitionsOut)
}
