package models

import (
	"sort"
	"strings"
)

// ActionDescriptor is one approval button derived from an outgoing
// Approval→State connection. The key derives from the label; descriptors are
// ordered by their configured order.
type ActionDescriptor struct {
	ConnectionID    string `json:"connectionId"`
	Key             string `json:"key"`
	Label           string `json:"label"`
	ButtonColor     string `json:"buttonColor"`
	RequiresComment bool   `json:"requiresComment"`
	Icon            string `json:"icon,omitempty"`
	Order           int    `json:"order"`
	TargetNodeID    string `json:"targetNodeId"`
	TargetState     string `json:"targetState"`
}

// ActionKey derives a stable action key from a button label.
func ActionKey(label string) string {
	return strings.ReplaceAll(strings.ToLower(label), " ", "_")
}

// AvailableActions builds the ordered action descriptors for a node's
// outgoing connections to state nodes. Connections to non-state nodes carry no
// buttons.
func (g *WorkflowGraph) AvailableActions(nodeID string) []ActionDescriptor {
	var actions []ActionDescriptor

	for _, conn := range g.Outgoing(nodeID) {
		target := g.NodeByID(conn.TargetNodeID)
		if target == nil || !target.StateNode() {
			continue
		}

		label := "Action"
		color := "primary"
		requiresComment := false
		icon := ""
		order := 1

		if conn.ActionConfig != nil {
			if conn.ActionConfig.Label != "" {
				label = conn.ActionConfig.Label
			}

			if conn.ActionConfig.ButtonColor != "" {
				color = conn.ActionConfig.ButtonColor
			}

			requiresComment = conn.ActionConfig.RequiresComment
			icon = conn.ActionConfig.Icon

			if conn.ActionConfig.Order != 0 {
				order = conn.ActionConfig.Order
			}
		}

		targetState := ""
		if config := target.StateConfig(); config != nil {
			targetState = config.StateKey
		}

		actions = append(actions, ActionDescriptor{
			ConnectionID:    conn.ID,
			Key:             ActionKey(label),
			Label:           label,
			ButtonColor:     color,
			RequiresComment: requiresComment,
			Icon:            icon,
			Order:           order,
			TargetNodeID:    target.ID,
			TargetState:     targetState,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Order < actions[j].Order
	})

	return actions
}
