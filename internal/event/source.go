package event

import (
	"encoding/json"
	"errors"
)

// Document is the source attached to document events. Only its reference
// and locale are exposed to remote clients.
type Document struct {
	Reference string `json:"reference"`
	Locale    string `json:"locale,omitempty"`
	Version   string `json:"version,omitempty"`
	Author    string `json:"author,omitempty"`
	Content   string `json:"content,omitempty"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	withLocale := d.Reference
	if d.Locale != "" {
		withLocale = d.Reference + "(" + d.Locale + ")"
	}
	return json.Marshal(struct {
		DocumentReference           string `json:"documentReference"`
		DocumentReferenceWithLocale string `json:"documentReferenceWithLocale"`
		Locale                      string `json:"locale"`
	}{d.Reference, withLocale, d.Locale})
}

// Host is the source attached to system events.
type Host struct {
	Name     string `json:"name"`
	OS       string `json:"os,omitempty"`
	Platform string `json:"platform,omitempty"`
	Uptime   uint64 `json:"uptime,omitempty"`
}

func decodeDocument(raw json.RawMessage) (any, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.Reference == "" {
		return nil, errors.New("document source has no reference")
	}
	return d, nil
}

func decodeHost(raw json.RawMessage) (any, error) {
	var h Host
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return h, nil
}
