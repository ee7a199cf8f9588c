/*-------------------------------------------------------------------------
 *
 * jsonb.go
 *    JSONB column support for sqlx
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/jsonb.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

/* JSONBMap maps a PostgreSQL jsonb column to a Go map */
type JSONBMap map[string]interface{}

/* Value implements driver.Valuer */
func (m JSONBMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

/* Scan implements sql.Scanner */
func (m *JSONBMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBMap", src)
	}

	return json.Unmarshal(data, m)
}

/* ToMap converts a JSONBMap to a plain map */
func (m JSONBMap) ToMap() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(m)
}

/* FromMap converts a plain map to a JSONBMap */
func FromMap(m map[string]interface{}) JSONBMap {
	if m == nil {
		return nil
	}
	return JSONBMap(m)
}

/* DeepCopy returns an independent copy of the map.
 *
 * Rule evaluation and the audit trail must observe the resource state as it
 * was at request time, so callers hand the orchestrator a snapshot rather
 * than a live reference. The JSON round trip also normalizes numeric types
 * to float64, matching what a later read from the jsonb column yields. */
func (m JSONBMap) DeepCopy() JSONBMap {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		/* Maps holding unmarshalable values cannot be persisted either;
		 * surface that at insert time, copy what we can here. */
		out := make(JSONBMap, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out JSONBMap
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
