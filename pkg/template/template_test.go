package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/template"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"title":  "Laptop purchase",
		"amount": 1499.5,
		"count":  3,
		"urgent": true,
		"vendor": map[string]any{"name": "ACME", "country": "DE"},
		"tags":   []any{"it", "hardware"},
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "no markers here", "no markers here"},
		{"string field", "Request: {{title}}", "Request: Laptop purchase"},
		{"number field", "Amount: {{amount}} EUR", "Amount: 1499.5 EUR"},
		{"integer field", "{{count}} items", "3 items"},
		{"bool field", "urgent={{urgent}}", "urgent=true"},
		{"nested lookup", "Vendor {{vendor.name}} ({{vendor.country}})", "Vendor ACME (DE)"},
		{"whitespace inside marker", "{{ title }}", "Laptop purchase"},
		{"missing key renders empty", "[{{nope}}]", "[]"},
		{"missing nested key renders empty", "[{{vendor.vat}}]", "[]"},
		{"lookup through non-map renders empty", "[{{title.sub}}]", "[]"},
		{"collection is json encoded", "{{tags}}", `["it","hardware"]`},
		{"multiple markers", "{{title}}: {{amount}}", "Laptop purchase: 1499.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, template.Render(tt.input, data))
		})
	}
}

func TestContext(t *testing.T) {
	doc := &models.Document{
		ID:              "doc-1",
		WorkflowID:      "wf-purchase",
		WorkflowStateID: "n-pending",
		CreatedByID:     "carol",
		Data:            map[string]any{"amount": 250},
	}

	data := template.Context(doc, map[string]any{"department": "sales"})

	assert.Equal(t, "Amount 250 for doc-1", template.Render("Amount {{amount}} for {{document.id}}", data))
	assert.Equal(t, "sales", template.Render("{{submitter.department}}", data))
	assert.Equal(t, "n-pending", template.Render("{{document.stateId}}", data))
	assert.Equal(t, "carol", template.Render("{{document.submitterId}}", data))
}
