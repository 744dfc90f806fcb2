// Package models defines the core domain models for document workflow graphs.
package models

import (
	"encoding/json"
	"fmt"
)

// NodeType identifies the kind of a workflow node and selects its config shape.
type NodeType string

const (
	NodeTypeState          NodeType = "state"
	NodeTypeApproval       NodeType = "approval"
	NodeTypeCondition      NodeType = "condition"
	NodeTypeNotification   NodeType = "notification"
	NodeTypeTimer          NodeType = "timer"
	NodeTypeChildFormEntry NodeType = "child_form_entry"
	NodeTypeViewPermission NodeType = "view_permission"
	NodeTypeEmail          NodeType = "email"
	NodeTypeWebhook        NodeType = "webhook"
	NodeTypeFork           NodeType = "fork"
	NodeTypeJoin           NodeType = "join"

	// Deprecated node types still emitted by older editor versions. The graph
	// loader normalizes them to initial/final state nodes.
	NodeTypeStart NodeType = "start"
	NodeTypeEnd   NodeType = "end"
)

// NodeConfig is the tagged-union payload of a node, one concrete shape per
// NodeType. Configs are decoded once at load time; the engine never reads
// untyped maps.
type NodeConfig interface {
	nodeConfig()
}

// Node is a single unit of a workflow graph. Nodes are immutable value
// records once loaded; the editor owns mutation.
type Node struct {
	ID    string   `json:"id"    validate:"required"`
	Type  NodeType `json:"type"  validate:"required"`
	Label string   `json:"label"`

	// Editor canvas position. Carried through serialization, ignored by the
	// engine.
	PositionX int `json:"position_x"`
	PositionY int `json:"position_y"`

	Config NodeConfig `json:"config"`
}

// nodeAlias avoids recursing into Node's own (Un)MarshalJSON.
type nodeAlias struct {
	ID        string          `json:"id"`
	Type      NodeType        `json:"type"`
	Label     string          `json:"label"`
	PositionX int             `json:"position_x"`
	PositionY int             `json:"position_y"`
	Config    json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes the node and its type-specific config payload.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	n.ID = alias.ID
	n.Type = alias.Type
	n.Label = alias.Label
	n.PositionX = alias.PositionX
	n.PositionY = alias.PositionY

	config, err := decodeNodeConfig(alias.Type, alias.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", alias.ID, err)
	}

	n.Config = config

	return nil
}

// MarshalJSON encodes the node with its config payload inline.
func (n Node) MarshalJSON() ([]byte, error) {
	var config json.RawMessage

	if n.Config != nil {
		encoded, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}

		config = encoded
	}

	return json.Marshal(nodeAlias{
		ID:        n.ID,
		Type:      n.Type,
		Label:     n.Label,
		PositionX: n.PositionX,
		PositionY: n.PositionY,
		Config:    config,
	})
}

func decodeNodeConfig(nodeType NodeType, raw json.RawMessage) (NodeConfig, error) {
	var target NodeConfig

	switch nodeType {
	case NodeTypeState, NodeTypeStart, NodeTypeEnd:
		target = &StateConfig{}
	case NodeTypeApproval:
		target = &ApprovalConfig{}
	case NodeTypeCondition:
		target = &ConditionConfig{}
	case NodeTypeNotification:
		target = &NotificationConfig{}
	case NodeTypeTimer:
		target = &TimerConfig{}
	case NodeTypeChildFormEntry:
		target = &ChildFormEntryConfig{}
	case NodeTypeViewPermission:
		target = &ViewPermissionConfig{}
	case NodeTypeEmail:
		target = &EmailConfig{}
	case NodeTypeWebhook:
		target = &WebhookConfig{}
	case NodeTypeFork:
		target = &ForkConfig{}
	case NodeTypeJoin:
		target = &JoinConfig{}
	default:
		return nil, fmt.Errorf("unknown node type %q", nodeType)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return target, nil
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", nodeType, err)
	}

	return target, nil
}

// StateNode reports whether the node represents a document lifecycle state,
// including the deprecated start/end spellings.
func (n *Node) StateNode() bool {
	return n.Type == NodeTypeState || n.Type == NodeTypeStart || n.Type == NodeTypeEnd
}

// StateConfig returns the node's state config, or nil when the node is not a
// state node.
func (n *Node) StateConfig() *StateConfig {
	if config, ok := n.Config.(*StateConfig); ok {
		return config
	}

	return nil
}

// SideEffectNode reports whether traversing the node fires an external side
// effect rather than changing the document's position.
func (n *Node) SideEffectNode() bool {
	switch n.Type {
	case NodeTypeNotification, NodeTypeEmail, NodeTypeWebhook:
		return true
	default:
		return false
	}
}
