package graph

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nocodile/docflow/pkg/models"
)

// Severity grades a structural finding. Errors block execution; warnings are
// surfaced to the editor but do not.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// StructuralError is one validation finding. Findings are reported, never
// auto-corrected; the editor decides how to surface them.
type StructuralError struct {
	Code         string   `json:"code"`
	Message      string   `json:"message"`
	NodeID       string   `json:"nodeId,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	Severity     Severity `json:"severity"`
}

func (e StructuralError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []StructuralError) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}

	return false
}

var structValidator = validator.New()

// Validate checks the structural invariants of a workflow graph and returns
// every finding. An empty result means the graph is executable.
func Validate(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	findings = append(findings, validateIdentity(g)...)
	findings = append(findings, validateConfigs(g)...)
	findings = append(findings, validateInitialState(g)...)
	findings = append(findings, validateReachability(g)...)
	findings = append(findings, validateConnections(g)...)
	findings = append(findings, validateConditions(g)...)
	findings = append(findings, validateForks(g)...)
	findings = append(findings, validateFinalStates(g)...)

	return findings
}

func validateIdentity(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	seenNodes := make(map[string]bool, len(g.Nodes))

	for _, node := range g.Nodes {
		if seenNodes[node.ID] {
			findings = append(findings, StructuralError{
				Code:     "duplicate_node_id",
				Message:  fmt.Sprintf("node id %q appears more than once", node.ID),
				NodeID:   node.ID,
				Severity: SeverityError,
			})
		}

		seenNodes[node.ID] = true
	}

	seenConns := make(map[string]bool, len(g.Connections))

	for _, conn := range g.Connections {
		if seenConns[conn.ID] {
			findings = append(findings, StructuralError{
				Code:         "duplicate_connection_id",
				Message:      fmt.Sprintf("connection id %q appears more than once", conn.ID),
				ConnectionID: conn.ID,
				Severity:     SeverityError,
			})
		}

		seenConns[conn.ID] = true

		if !seenNodes[conn.SourceNodeID] && g.NodeByID(conn.SourceNodeID) == nil {
			findings = append(findings, StructuralError{
				Code:         "dangling_connection",
				Message:      fmt.Sprintf("connection %q references missing source node %q", conn.ID, conn.SourceNodeID),
				ConnectionID: conn.ID,
				Severity:     SeverityError,
			})
		}

		if g.NodeByID(conn.TargetNodeID) == nil {
			findings = append(findings, StructuralError{
				Code:         "dangling_connection",
				Message:      fmt.Sprintf("connection %q references missing target node %q", conn.ID, conn.TargetNodeID),
				ConnectionID: conn.ID,
				Severity:     SeverityError,
			})
		}
	}

	return findings
}

func validateConfigs(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	for _, node := range g.Nodes {
		if node.Config == nil {
			findings = append(findings, StructuralError{
				Code:     "missing_config",
				Message:  fmt.Sprintf("node %q has no config", node.ID),
				NodeID:   node.ID,
				Severity: SeverityError,
			})

			continue
		}

		if err := structValidator.Struct(node.Config); err != nil {
			findings = append(findings, StructuralError{
				Code:     "invalid_config",
				Message:  fmt.Sprintf("node %q config: %v", node.ID, err),
				NodeID:   node.ID,
				Severity: SeverityError,
			})
		}
	}

	return findings
}

func validateInitialState(g *models.WorkflowGraph) []StructuralError {
	var initial []string

	for _, node := range g.Nodes {
		if config := node.StateConfig(); config != nil && config.IsInitial {
			initial = append(initial, node.ID)
		}
	}

	switch len(initial) {
	case 1:
		return nil
	case 0:
		// Warning, not error: editors delete or bypass the initial state
		// mid-edit, and in-flight documents keep their recorded position.
		return []StructuralError{{
			Code:     "no_initial_state",
			Message:  "workflow has no initial state node; new documents cannot be started",
			Severity: SeverityWarning,
		}}
	default:
		findings := make([]StructuralError, 0, len(initial))
		for _, id := range initial {
			findings = append(findings, StructuralError{
				Code:     "multiple_initial_states",
				Message:  fmt.Sprintf("state node %q is one of %d initial states; exactly one is allowed", id, len(initial)),
				NodeID:   id,
				Severity: SeverityError,
			})
		}

		return findings
	}
}

func validateReachability(g *models.WorkflowGraph) []StructuralError {
	initial := g.InitialState()
	if initial == nil {
		return nil // already reported by validateInitialState
	}

	reachable := map[string]bool{initial.ID: true}
	queue := []string{initial.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, conn := range g.Outgoing(current) {
			if !reachable[conn.TargetNodeID] {
				reachable[conn.TargetNodeID] = true
				queue = append(queue, conn.TargetNodeID)
			}
		}
	}

	var findings []StructuralError

	for _, node := range g.Nodes {
		if !reachable[node.ID] {
			findings = append(findings, StructuralError{
				Code:     "unreachable_node",
				Message:  fmt.Sprintf("node %q is not reachable from the initial state", node.ID),
				NodeID:   node.ID,
				Severity: SeverityError,
			})
		}
	}

	return findings
}

// sourceSockets returns the output socket names a node type actually offers.
func sourceSockets(node *models.Node) map[string]bool {
	sockets := map[string]bool{models.SocketOutput: true, "": true}

	switch config := node.Config.(type) {
	case *models.ConditionConfig:
		delete(sockets, models.SocketOutput)

		for _, rule := range config.Conditions {
			sockets[rule.TargetBranch] = true
		}

		sockets[models.DefaultElseBranch] = true
		if config.DefaultBranch != "" {
			sockets[config.DefaultBranch] = true
		}
	case *models.ForkConfig:
		delete(sockets, models.SocketOutput)
		delete(sockets, "")

		for _, branch := range config.Branches {
			sockets[branch.ID] = true
		}
	case *models.WebhookConfig:
		if config.OnSuccess == models.WebhookSuccessBranch {
			sockets[models.SocketSuccess] = true
			sockets[models.SocketError] = true
		}
	}

	return sockets
}

func validateConnections(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	for _, conn := range g.Connections {
		source := g.NodeByID(conn.SourceNodeID)
		if source == nil {
			continue // reported as dangling
		}

		if !sourceSockets(source)[conn.BranchKey()] {
			findings = append(findings, StructuralError{
				Code: "unknown_source_socket",
				Message: fmt.Sprintf("connection %q leaves socket %q which %s node %q does not offer",
					conn.ID, conn.BranchKey(), source.Type, source.ID),
				ConnectionID: conn.ID,
				Severity:     SeverityError,
			})
		}
	}

	return findings
}

func validateConditions(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	for _, node := range g.Nodes {
		config, ok := node.Config.(*models.ConditionConfig)
		if !ok {
			continue
		}

		branches := map[string]bool{models.DefaultElseBranch: true}
		for _, rule := range config.Conditions {
			branches[rule.TargetBranch] = true
		}

		if config.DefaultBranch != "" && !branches[config.DefaultBranch] {
			findings = append(findings, StructuralError{
				Code: "unknown_default_branch",
				Message: fmt.Sprintf("condition node %q default branch %q matches no rule target and is not %q",
					node.ID, config.DefaultBranch, models.DefaultElseBranch),
				NodeID:   node.ID,
				Severity: SeverityError,
			})
		}

		connected := make(map[string]bool)
		for _, conn := range g.Outgoing(node.ID) {
			connected[conn.BranchKey()] = true
		}

		for _, rule := range config.Conditions {
			if !connected[rule.TargetBranch] {
				findings = append(findings, StructuralError{
					Code:     "missing_branch_connection",
					Message:  fmt.Sprintf("condition node %q has no outgoing connection for branch %q", node.ID, rule.TargetBranch),
					NodeID:   node.ID,
					Severity: SeverityWarning,
				})
			}
		}
	}

	return findings
}

// joinsReachableFrom walks forward from a node collecting the join nodes
// encountered, without traversing past them.
func joinsReachableFrom(g *models.WorkflowGraph, startNodeID string) map[string]bool {
	joins := make(map[string]bool)
	visited := map[string]bool{startNodeID: true}
	queue := []string{startNodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.NodeByID(current)
		if node != nil && node.Type == models.NodeTypeJoin && current != startNodeID {
			joins[current] = true

			continue
		}

		for _, conn := range g.Outgoing(current) {
			if !visited[conn.TargetNodeID] {
				visited[conn.TargetNodeID] = true
				queue = append(queue, conn.TargetNodeID)
			}
		}
	}

	return joins
}

func validateForks(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	for _, node := range g.Nodes {
		config, ok := node.Config.(*models.ForkConfig)
		if !ok {
			continue
		}

		if len(config.Branches) < 2 {
			findings = append(findings, StructuralError{
				Code:     "fork_too_few_branches",
				Message:  fmt.Sprintf("fork node %q declares %d branches; at least 2 are required", node.ID, len(config.Branches)),
				NodeID:   node.ID,
				Severity: SeverityError,
			})

			continue
		}

		// Every branch must reach exactly one common join.
		var common map[string]bool

		for _, branch := range config.Branches {
			entry := branchEntry(g, node.ID, branch.ID)
			if entry == "" {
				findings = append(findings, StructuralError{
					Code:     "fork_branch_unconnected",
					Message:  fmt.Sprintf("fork node %q branch %q has no outgoing connection", node.ID, branch.ID),
					NodeID:   node.ID,
					Severity: SeverityError,
				})

				continue
			}

			joins := joinsReachableFrom(g, entry)
			if common == nil {
				common = joins

				continue
			}

			for id := range common {
				if !joins[id] {
					delete(common, id)
				}
			}
		}

		if len(common) != 1 {
			findings = append(findings, StructuralError{
				Code:     "fork_join_mismatch",
				Message:  fmt.Sprintf("fork node %q must have exactly one join reachable from all branches, found %d", node.ID, len(common)),
				NodeID:   node.ID,
				Severity: SeverityError,
			})
		}
	}

	return findings
}

// branchEntry returns the first node a fork branch leads to, or "".
func branchEntry(g *models.WorkflowGraph, forkID, branchID string) string {
	for _, conn := range g.Outgoing(forkID) {
		if conn.BranchKey() == branchID {
			return conn.TargetNodeID
		}
	}

	return ""
}

func validateFinalStates(g *models.WorkflowGraph) []StructuralError {
	var findings []StructuralError

	for _, node := range g.Nodes {
		config := node.StateConfig()
		if config == nil || !config.IsFinal {
			continue
		}

		for _, conn := range g.Outgoing(node.ID) {
			if !conn.SendBack {
				findings = append(findings, StructuralError{
					Code: "final_state_outgoing",
					Message: fmt.Sprintf("final state %q has outgoing connection %q not marked as send-back",
						node.ID, conn.ID),
					NodeID:       node.ID,
					ConnectionID: conn.ID,
					Severity:     SeverityError,
				})
			}
		}
	}

	return findings
}
