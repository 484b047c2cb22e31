package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONMap is a free-form JSONB object. A nil map is stored as NULL.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSON(map[string]any(m))
}

func (m *JSONMap) Scan(src any) error {
	*m = nil
	if src == nil {
		return nil
	}
	out := map[string]any{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Attachments is the JSONB list of message attachments.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return valueJSON([]Attachment(a))
}

func (a *Attachments) Scan(src any) error {
	out := []Attachment{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// Reactions is the JSONB list of reaction entries on a message.
type Reactions []Reaction

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return valueJSON([]Reaction(r))
}

func (r *Reactions) Scan(src any) error {
	out := []Reaction{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*r = out
	return nil
}

// Reports is the JSONB list of user reports attached to flaggable content.
type Reports []ContentReport

func (r Reports) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return valueJSON([]ContentReport(r))
}

func (r *Reports) Scan(src any) error {
	out := []ContentReport{}
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*r = out
	return nil
}

func (f ForwardInfo) Value() (driver.Value, error) {
	return valueJSON(f)
}

func (f *ForwardInfo) Scan(src any) error {
	return scanJSON(src, f)
}
