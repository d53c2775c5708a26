// Package ops names the operations and events exchanged between the editor
// and its host, and the payloads they carry.
package ops

import (
	"encoding/json"
	"errors"
	"strings"
)

// Operations.
const (
	DocLoad            = "doc.load"
	DocSave            = "doc.save"
	DocSaveSVG         = "doc.saveSvg"
	DocOpenExternal    = "doc.openExternal"
	UISetPropertyPanel = "ui.setPropertyPanel"
	UISetMenubar       = "ui.setMenubar"
)

// Events.
const (
	EventUIState    = "ui.state"
	EventDocChanged = "doc.changed"
)

// Diagram types carried by SavePayload.DiagramType.
const (
	DiagramBPMN = "bpmn"
	DiagramDMN  = "dmn"
)

// HostOperations is the operation list a host advertises. The ui.* entries
// name toggles the host drives on the component, not handlers it serves.
var HostOperations = []string{DocLoad, DocSave, DocSaveSVG, UISetPropertyPanel, UISetMenubar}

// SavePayload is the doc.save request.
type SavePayload struct {
	XML         string `json:"xml"`
	DiagramType string `json:"diagramType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// SaveSVGPayload is the doc.saveSvg request.
type SaveSVGPayload struct {
	SVG           string `json:"svg"`
	SuggestedName string `json:"suggestedName,omitempty"`
}

// SaveResult answers doc.save and doc.saveSvg.
type SaveResult struct {
	OK       bool   `json:"ok"`
	Path     string `json:"path,omitempty"`
	Canceled bool   `json:"canceled,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LoadResult answers doc.load.
type LoadResult struct {
	XML      string `json:"xml"`
	FileName string `json:"fileName,omitempty"`
	Canceled bool   `json:"canceled,omitempty"`
}

// DecodeLoadResult accepts either a LoadResult object or a bare XML string.
func DecodeLoadResult(raw json.RawMessage) (LoadResult, error) {
	var out LoadResult
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	var xml string
	if err := json.Unmarshal(raw, &xml); err == nil {
		out.XML = xml
		return out, nil
	}
	err := json.Unmarshal(raw, &out)
	return out, err
}

// OpenExternalPayload is the doc.openExternal request. Either XML or JSON
// (an event definition) carries the document.
type OpenExternalPayload struct {
	XML      string `json:"xml,omitempty"`
	JSON     string `json:"json,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// ErrEmptyDocument rejects an OpenExternalPayload with no content.
var ErrEmptyDocument = errors.New("empty document")

// Validate reports ErrEmptyDocument when both bodies are blank.
func (p OpenExternalPayload) Validate() error {
	if strings.TrimSpace(p.XML) == "" && strings.TrimSpace(p.JSON) == "" {
		return ErrEmptyDocument
	}
	return nil
}

// VisibilityPayload is the ui.setPropertyPanel and ui.setMenubar request.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// Ack is the plain {ok} answer to commands.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// UIState is the ui.state event.
type UIState struct {
	PropertyPanel bool `json:"propertyPanel"`
	Menubar       bool `json:"menubar"`
}

// DocChanged is the doc.changed event.
type DocChanged struct {
	Dirty bool `json:"dirty"`
}
