package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Values is a free-form settings document: string keys, arbitrary JSON
// values. It backs device_info, settings maps and audit details.
type Values map[string]any

// Merge returns a copy of v with patch applied key by key. A nil value in
// patch deletes the key.
func (v Values) Merge(patch Values) Values {
	out := v.Clone()
	for k, val := range patch {
		if val == nil {
			delete(out, k)
			continue
		}
		out[k] = val
	}
	return out
}

// Replace returns a copy of next, ignoring v entirely.
func (v Values) Replace(next Values) Values {
	return next.Clone()
}

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	maps.Copy(out, v)
	return out
}

// Value implements driver.Valuer.
func (v Values) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(v))
}

// Scan implements sql.Scanner.
func (v *Values) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	out := Values{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, (*map[string]any)(&out)); err != nil {
			return fmt.Errorf("scan values: %w", err)
		}
	}
	*v = out
	return nil
}

// Tags is a set of labels. It is always kept deduplicated and sorted.
type Tags []string

// NewTags normalizes raw into a tag set; blank entries are dropped.
func NewTags(raw ...string) Tags {
	out := make(Tags, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether tag is in the set.
func (t Tags) Has(tag string) bool {
	_, ok := slices.BinarySearch(t, tag)
	return ok
}

// Value implements driver.Valuer.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil {
		return err
	}
	var list []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("scan tags: %w", err)
		}
	}
	*t = NewTags(list...)
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch s := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return s, nil
	case string:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
