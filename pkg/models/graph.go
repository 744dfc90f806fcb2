package models

// Socket names for single-socket nodes. Condition branches and fork branch ids
// name their own sockets.
const (
	SocketOutput = "output"
	SocketInput  = "input"

	// Webhook branch sockets, used when onSuccess = "branch".
	SocketSuccess = "success"
	SocketError   = "error"
)

// ActionConfig carries presentation metadata for the action button rendered
// for a traversable connection. RequiresComment is a hard constraint enforced
// by the executor, not UI decoration.
type ActionConfig struct {
	Label           string `json:"label"`
	ButtonColor     string `json:"buttonColor,omitempty"`
	RequiresComment bool   `json:"requiresComment"`
	Icon            string `json:"icon,omitempty"`
	Order           int    `json:"order,omitempty"`
}

// Connection is a directed edge between two node sockets.
type Connection struct {
	ID           string `json:"id"           validate:"required"`
	SourceNodeID string `json:"sourceNodeId" validate:"required"`
	TargetNodeID string `json:"targetNodeId" validate:"required"`
	SourceOutput string `json:"sourceOutput"`
	TargetInput  string `json:"targetInput"`

	// ConditionKey names the condition branch this edge serves, when the
	// source is a condition node.
	ConditionKey string `json:"conditionKey,omitempty"`

	// SendBack marks an edge that returns a document from a final state.
	// Final states admit no other outgoing edges.
	SendBack bool `json:"sendBack,omitempty"`

	ActionConfig *ActionConfig `json:"actionConfig,omitempty"`
}

// BranchKey returns the logical branch this connection serves on its source
// node: the explicit condition key when present, otherwise the source socket.
func (c *Connection) BranchKey() string {
	if c.ConditionKey != "" {
		return c.ConditionKey
	}

	return c.SourceOutput
}

// WorkflowGraph is the canonical, engine-facing representation of one
// workflow: an ordered set of nodes and the connections between them. The
// engine consumes a validated, immutable snapshot; all mutation stays in the
// editor's domain.
type WorkflowGraph struct {
	WorkflowID  string        `json:"workflowId" validate:"required"`
	Name        string        `json:"name,omitempty"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
}

// NodeByID returns the node with the given id, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// ConnectionByID returns the connection with the given id, or nil.
func (g *WorkflowGraph) ConnectionByID(id string) *Connection {
	for _, conn := range g.Connections {
		if conn.ID == id {
			return conn
		}
	}

	return nil
}

// Outgoing returns the connections leaving a node, in declaration order.
func (g *WorkflowGraph) Outgoing(nodeID string) []*Connection {
	var out []*Connection

	for _, conn := range g.Connections {
		if conn.SourceNodeID == nodeID {
			out = append(out, conn)
		}
	}

	return out
}

// Incoming returns the connections entering a node, in declaration order.
func (g *WorkflowGraph) Incoming(nodeID string) []*Connection {
	var in []*Connection

	for _, conn := range g.Connections {
		if conn.TargetNodeID == nodeID {
			in = append(in, conn)
		}
	}

	return in
}

// InitialState returns the unique initial state node, or nil when the graph
// has none (a structural error reported by validation).
func (g *WorkflowGraph) InitialState() *Node {
	for _, node := range g.Nodes {
		if config := node.StateConfig(); config != nil && config.IsInitial {
			return node
		}
	}

	return nil
}

// StateByKey returns the state node carrying the given state key, or nil.
func (g *WorkflowGraph) StateByKey(key string) *Node {
	for _, node := range g.Nodes {
		if config := node.StateConfig(); config != nil && config.StateKey == key {
			return node
		}
	}

	return nil
}
