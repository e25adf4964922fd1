package model

import (
	"bytes"
	"encoding/json"
)

// Ref is a reference to another record. The remote API sends either the bare
// identifier or the populated document; both decode into a Ref.
type Ref struct {
	ID     string          `json:"_id"`
	Name   string          `json:"name,omitempty"`
	Email  string          `json:"email,omitempty"`
	Fields json.RawMessage `json:"-"`
}

// UnmarshalJSON accepts a string identifier or a populated object.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	type plain Ref
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Ref(p)
	// serviceName and categoryName are the display names on those documents.
	if r.Name == "" {
		var named struct {
			ServiceName  string `json:"serviceName"`
			CategoryName string `json:"categoryName"`
		}
		if err := json.Unmarshal(data, &named); err == nil {
			r.Name = named.ServiceName
			if r.Name == "" {
				r.Name = named.CategoryName
			}
		}
	}
	r.Fields = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the populated form so presentation keeps display names.
func (r Ref) MarshalJSON() ([]byte, error) {
	if len(r.Fields) > 0 {
		return r.Fields, nil
	}
	type plain Ref
	return json.Marshal(plain(r))
}
