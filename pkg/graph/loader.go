// Package graph loads and structurally validates workflow graphs produced by
// the editor. Loading yields an immutable snapshot for the engine; validation
// reports problems without correcting them.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema guards the persistence contract between the editor and the
// engine before any typed decoding happens.
const envelopeSchema = `{
	"type": "object",
	"required": ["workflowId", "nodes", "connections"],
	"properties": {
		"workflowId": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"label": {"type": "string"},
					"position_x": {"type": "integer"},
					"position_y": {"type": "integer"},
					"config": {"type": ["object", "null"]}
				}
			}
		},
		"connections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "sourceNodeId", "targetNodeId"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"sourceNodeId": {"type": "string", "minLength": 1},
					"targetNodeId": {"type": "string", "minLength": 1},
					"sourceOutput": {"type": "string"},
					"targetInput": {"type": "string"},
					"conditionKey": {"type": "string"},
					"sendBack": {"type": "boolean"},
					"actionConfig": {"type": ["object", "null"]}
				}
			}
		}
	}
}`

// ErrInvalidEnvelope is returned when a graph document does not satisfy the
// persistence format before typed decoding.
var ErrInvalidEnvelope = errors.New("invalid workflow graph document")

// Load decodes a serialized workflow graph, validating the envelope against
// its JSON schema and normalizing deprecated start/end nodes into
// initial/final states.
func Load(data []byte) (*models.WorkflowGraph, error) {
	schemaResult, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(envelopeSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	if !schemaResult.Valid() {
		detail := ""
		for _, desc := range schemaResult.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, detail)
	}

	var loaded models.WorkflowGraph
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	Normalize(&loaded)

	return &loaded, nil
}

// Normalize rewrites deprecated start/end nodes as state nodes with
// isInitial/isFinal set. Already-normalized graphs pass through unchanged.
func Normalize(g *models.WorkflowGraph) {
	for _, node := range g.Nodes {
		switch node.Type {
		case models.NodeTypeStart:
			node.Type = models.NodeTypeState

			config := node.StateConfig()
			if config == nil {
				config = &models.StateConfig{}
				node.Config = config
			}

			config.IsInitial = true
			if config.StateKey == "" {
				config.StateKey = models.ActionKey(node.Label)
			}
		case models.NodeTypeEnd:
			node.Type = models.NodeTypeState

			config := node.StateConfig()
			if config == nil {
				config = &models.StateConfig{}
				node.Config = config
			}

			config.IsFinal = true
			if config.StateKey == "" {
				config.StateKey = models.ActionKey(node.Label)
			}
		}
	}
}
