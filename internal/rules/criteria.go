/*-------------------------------------------------------------------------
 *
 * criteria.go
 *    Hard criteria parsing and matching for auto-approval rules
 *
 * Criteria live in a jsonb column and are operator-editable, so parsing
 * treats them as untrusted: malformed criteria produce a validation
 * error and the rule is skipped, never guessed at.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/rules/criteria.go
 *
 *-------------------------------------------------------------------------
 */

package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/outreachforge/approvald/internal/db"
)

/* ErrInvalidRule marks rules with malformed criteria or weights */
var ErrInvalidRule = errors.New("invalid approval rule")

/* Bound is an inclusive numeric range on a resource field */
type Bound struct {
	Min *float64
	Max *float64
}

/* Criteria are the hard preconditions a resource must satisfy before a
 * rule's weighted score applies */
type Criteria struct {
	ExcludedKeywords []string
	RequiredFields   []string
	Bounds           map[string]Bound
}

/* parseCriteria decodes the criteria jsonb document */
func parseCriteria(raw db.JSONBMap) (*Criteria, error) {
	c := &Criteria{Bounds: make(map[string]Bound)}
	if raw == nil {
		return c, nil
	}

	for key, value := range raw {
		switch key {
		case "excluded_keywords":
			kws, err := toStringSlice(value)
			if err != nil {
				return nil, fmt.Errorf("%w: excluded_keywords: %v", ErrInvalidRule, err)
			}
			c.ExcludedKeywords = kws
		case "required_fields":
			fields, err := toStringSlice(value)
			if err != nil {
				return nil, fmt.Errorf("%w: required_fields: %v", ErrInvalidRule, err)
			}
			c.RequiredFields = fields
		case "bounds":
			boundsRaw, ok := value.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: bounds must be an object, got %T", ErrInvalidRule, value)
			}
			for field, boundRaw := range boundsRaw {
				bound, err := parseBound(boundRaw)
				if err != nil {
					return nil, fmt.Errorf("%w: bounds[%s]: %v", ErrInvalidRule, field, err)
				}
				c.Bounds[field] = bound
			}
		default:
			return nil, fmt.Errorf("%w: unknown criteria key '%s'", ErrInvalidRule, key)
		}
	}

	return c, nil
}

func parseBound(raw interface{}) (Bound, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Bound{}, fmt.Errorf("bound must be an object, got %T", raw)
	}
	var b Bound
	for key, value := range m {
		num, ok := toFloat(value)
		if !ok {
			return Bound{}, fmt.Errorf("'%s' must be a number, got %T", key, value)
		}
		switch key {
		case "min":
			v := num
			b.Min = &v
		case "max":
			v := num
			b.Max = &v
		default:
			return Bound{}, fmt.Errorf("unknown bound key '%s'", key)
		}
	}
	if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
		return Bound{}, fmt.Errorf("min %v exceeds max %v", *b.Min, *b.Max)
	}
	return b, nil
}

/* Satisfied reports whether the resource meets every hard criterion */
func (c *Criteria) Satisfied(resource map[string]interface{}) bool {
	for _, field := range c.RequiredFields {
		if _, ok := resource[field]; !ok {
			return false
		}
	}

	if len(c.ExcludedKeywords) > 0 && containsAnyKeyword(resource, c.ExcludedKeywords) {
		return false
	}

	for field, bound := range c.Bounds {
		value, ok := resource[field]
		if !ok {
			return false
		}
		num, ok := toFloat(value)
		if !ok {
			return false
		}
		if bound.Min != nil && num < *bound.Min {
			return false
		}
		if bound.Max != nil && num > *bound.Max {
			return false
		}
	}

	return true
}

/* containsAnyKeyword scans every string value in the resource, including
 * nested objects and arrays, for any excluded keyword */
func containsAnyKeyword(value interface{}, keywords []string) bool {
	switch v := value.(type) {
	case string:
		lower := strings.ToLower(v)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	case map[string]interface{}:
		for _, nested := range v {
			if containsAnyKeyword(nested, keywords) {
				return true
			}
		}
	case []interface{}:
		for _, nested := range v {
			if containsAnyKeyword(nested, keywords) {
				return true
			}
		}
	}
	return false
}

func toStringSlice(raw interface{}) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
