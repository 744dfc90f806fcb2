// Package template substitutes {{placeholder}} markers in notification,
// email, and webhook configuration against document field values and
// submitter attributes.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/nocodile/docflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Render replaces every {{key}} marker with the stringified value under that
// key in data. Dotted keys traverse nested maps. Unresolved markers render as
// an empty string rather than failing: a missing field must not block a
// notification.
func Render(input string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]

		value, ok := lookup(data, key)
		if !ok {
			return ""
		}

		return stringify(value)
	})
}

// Context builds the substitution data for one document: top-level document
// fields, plus the document record under "document" and submitter attributes
// under "submitter".
func Context(doc *models.Document, submitterAttrs map[string]any) map[string]any {
	data := make(map[string]any, len(doc.Data)+2)

	for key, value := range doc.Data {
		data[key] = value
	}

	data["document"] = map[string]any{
		"id":          doc.ID,
		"workflowId":  doc.WorkflowID,
		"stateId":     doc.WorkflowStateID,
		"submitterId": doc.CreatedByID,
	}
	data["submitter"] = submitterAttrs

	return data
}

func lookup(data map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var current any = data

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(encoded)
	}
}
