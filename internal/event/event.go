// Package event defines the application events remote clients may listen to
// and the allow-listed catalogue used to build them from client requests.
package event

import (
	"encoding/json"
	"strings"
)

// Event is a value published on the observation bus. A listener declares the
// events it is interested in by example: the bus delivers a fired event to a
// listener when the kinds are equal and the declared event Matches it.
type Event interface {
	Kind() string
	Matches(other Event) bool
}

const (
	KindApplicationReady = "application.ready"
	KindWikiReady        = "wiki.ready"
	KindWikiDeleted      = "wiki.deleted"
	KindDocumentCreated  = "document.created"
	KindDocumentUpdated  = "document.updated"
	KindDocumentDeleted  = "document.deleted"
	KindSystemStats      = "system.stats"
)

// ApplicationReady fires once the application finished starting.
type ApplicationReady struct{}

func (ApplicationReady) Kind() string { return KindApplicationReady }

func (ApplicationReady) Matches(other Event) bool {
	_, ok := other.(ApplicationReady)
	return ok
}

func (ApplicationReady) MarshalJSON() ([]byte, error) {
	return json.Marshal(typed{Type: KindApplicationReady})
}

// typed prefixes the JSON of an event with its kind.
type typed struct {
	Type string `json:"type"`
}

// WikiEvent covers wiki lifecycle events. An empty WikiID matches any wiki.
type WikiEvent struct {
	kind   string
	WikiID string `json:"wikiId,omitempty"`
}

func NewWikiReady(wikiID string) WikiEvent {
	return WikiEvent{kind: KindWikiReady, WikiID: wikiID}
}

func NewWikiDeleted(wikiID string) WikiEvent {
	return WikiEvent{kind: KindWikiDeleted, WikiID: wikiID}
}

func (e WikiEvent) Kind() string { return e.kind }

// MarshalJSON writes the kind as "type" ahead of the filter fields.
func (e WikiEvent) MarshalJSON() ([]byte, error) {
	type fields WikiEvent
	return json.Marshal(struct {
		typed
		fields
	}{typed{e.kind}, fields(e)})
}

func (e WikiEvent) Matches(other Event) bool {
	o, ok := other.(WikiEvent)
	if !ok || o.kind != e.kind {
		return false
	}
	return e.WikiID == "" || e.WikiID == o.WikiID
}

// DocumentEvent covers document created/updated/deleted events. Filter fields
// left empty match anything.
type DocumentEvent struct {
	kind      string
	Reference string `json:"reference,omitempty"`
	Wiki      string `json:"wiki,omitempty"`
	Space     string `json:"space,omitempty"`
}

func newDocumentEvent(kind, reference string) DocumentEvent {
	e := DocumentEvent{kind: kind, Reference: reference}
	e.Wiki, e.Space, _ = SplitReference(reference)
	return e
}

func NewDocumentCreated(reference string) DocumentEvent {
	return newDocumentEvent(KindDocumentCreated, reference)
}

func NewDocumentUpdated(reference string) DocumentEvent {
	return newDocumentEvent(KindDocumentUpdated, reference)
}

func NewDocumentDeleted(reference string) DocumentEvent {
	return newDocumentEvent(KindDocumentDeleted, reference)
}

func (e DocumentEvent) Kind() string { return e.kind }

func (e DocumentEvent) MarshalJSON() ([]byte, error) {
	type fields DocumentEvent
	return json.Marshal(struct {
		typed
		fields
	}{typed{e.kind}, fields(e)})
}

func (e DocumentEvent) Matches(other Event) bool {
	o, ok := other.(DocumentEvent)
	if !ok || o.kind != e.kind {
		return false
	}
	if e.Reference != "" {
		return e.Reference == o.Reference
	}
	if e.Wiki != "" && e.Wiki != o.Wiki {
		return false
	}
	if e.Space != "" && e.Space != o.Space {
		return false
	}
	return true
}

// SplitReference splits a "wiki:Space.Sub.Page" reference. The wiki part is
// optional; the space is everything before the last dot.
func SplitReference(reference string) (wiki, space, page string) {
	rest := reference
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		wiki, rest = rest[:i], rest[i+1:]
	}
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		return wiki, rest[:i], rest[i+1:]
	}
	return wiki, "", rest
}

// SystemStats is published periodically with process readings. As a
// listener filter, Host restricts the emitting host and MinCPUPercent sets a
// lower bound on the reported CPU usage.
type SystemStats struct {
	Host          string  `json:"host,omitempty"`
	CPUPercent    float64 `json:"cpuPercent"`
	MinCPUPercent float64 `json:"minCpuPercent,omitempty"`
}

func (SystemStats) Kind() string { return KindSystemStats }

func (e SystemStats) MarshalJSON() ([]byte, error) {
	type fields SystemStats
	return json.Marshal(struct {
		typed
		fields
	}{typed{KindSystemStats}, fields(e)})
}

func (e SystemStats) Matches(other Event) bool {
	o, ok := other.(SystemStats)
	if !ok {
		return false
	}
	if e.Host != "" && e.Host != o.Host {
		return false
	}
	return o.CPUPercent >= e.MinCPUPercent
}
