// Package condition evaluates boolean expression trees against document field
// values and submitter attributes. Operand lookups that fail resolve to a
// non-match, never an error: a misconfigured rule routes to the default
// branch instead of failing the transition.
package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/nocodile/docflow/pkg/models"
)

// Evaluate resolves both operands of an expression and compares them.
func Evaluate(expr models.ConditionExpression, doc *models.Document, submitterAttrs map[string]any) bool {
	left, leftPresent := resolveOperand(expr.LeftOperand, doc, submitterAttrs)
	right, rightPresent := resolveOperand(expr.RightOperand, doc, submitterAttrs)

	switch expr.Operator {
	case models.OpEqual:
		if !leftPresent || !rightPresent {
			return leftPresent == rightPresent
		}
	case models.OpNotEqual:
		if !leftPresent || !rightPresent {
			return leftPresent != rightPresent
		}
	default:
		// Every other operator treats an absent operand as a non-match.
		if !leftPresent || !rightPresent {
			return false
		}
	}

	return Compare(left, expr.Operator, right)
}

// EvaluateRule combines a rule's expressions under its single logical
// operator. Rules carry no per-expression nesting.
func EvaluateRule(rule models.ConditionRule, doc *models.Document, submitterAttrs map[string]any) bool {
	if rule.LogicalOperator == models.LogicalOr {
		for _, expr := range rule.Rules {
			if Evaluate(expr, doc, submitterAttrs) {
				return true
			}
		}

		return false
	}

	for _, expr := range rule.Rules {
		if !Evaluate(expr, doc, submitterAttrs) {
			return false
		}
	}

	return true
}

// SelectBranch evaluates a condition node's rules in declaration order and
// returns the first matching rule's target branch, falling back to the
// configured default. The result is deterministic for identical inputs.
func SelectBranch(config *models.ConditionConfig, doc *models.Document, submitterAttrs map[string]any) string {
	for _, rule := range config.Conditions {
		if EvaluateRule(rule, doc, submitterAttrs) {
			return rule.TargetBranch
		}
	}

	if config.DefaultBranch != "" {
		return config.DefaultBranch
	}

	return models.DefaultElseBranch
}

func resolveOperand(op models.Operand, doc *models.Document, submitterAttrs map[string]any) (any, bool) {
	switch op.Type {
	case models.OperandField:
		key, ok := op.Value.(string)
		if !ok || doc == nil {
			return nil, false
		}

		return doc.Field(key)
	case models.OperandUserAttribute:
		key, ok := op.Value.(string)
		if !ok {
			return nil, false
		}

		value, present := submitterAttrs[key]

		return value, present
	case models.OperandConstant:
		return op.Value, true
	default:
		return nil, false
	}
}

// Compare applies a binary operator to two present values. Numeric operators
// coerce both sides to numbers and treat non-numeric input as a non-match.
// String operators are case-sensitive.
func Compare(left any, operator models.CompareOperator, right any) bool {
	switch operator {
	case models.OpEqual:
		return looseEqual(left, right)
	case models.OpNotEqual:
		return !looseEqual(left, right)
	case models.OpGreater, models.OpLess, models.OpGreaterEqual, models.OpLessEqual:
		leftNum, leftOK := toNumber(left)
		rightNum, rightOK := toNumber(right)

		if !leftOK || !rightOK {
			return false
		}

		switch operator {
		case models.OpGreater:
			return leftNum > rightNum
		case models.OpLess:
			return leftNum < rightNum
		case models.OpGreaterEqual:
			return leftNum >= rightNum
		default:
			return leftNum <= rightNum
		}
	case models.OpContains:
		return contains(left, right)
	case models.OpIn:
		return contains(right, left)
	case models.OpStartsWith:
		return strings.HasPrefix(toString(left), toString(right))
	case models.OpEndsWith:
		return strings.HasSuffix(toString(left), toString(right))
	default:
		return false
	}
}

// looseEqual compares numerically when both sides coerce to numbers, so that
// a form storing "42" matches a constant 42. Arrays and objects compare
// deeply; everything else compares by string representation.
func looseEqual(left, right any) bool {
	if leftNum, ok := toNumber(left); ok {
		if rightNum, rightOK := toNumber(right); rightOK {
			return leftNum == rightNum
		}

		return false
	}

	leftKind := reflect.ValueOf(left).Kind()
	if left != nil && right != nil && (leftKind == reflect.Slice || leftKind == reflect.Map) {
		return reflect.DeepEqual(left, right)
	}

	return toString(left) == toString(right)
}

// contains handles both string containment and array membership on the
// haystack side.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, toString(needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	case []string:
		needleStr := toString(needle)
		for _, item := range h {
			if item == needleStr {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func toString(value any) string {
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
		return fmt.Sprintf("%v", v)
	}
}
