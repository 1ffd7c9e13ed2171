package engine

import (
	"bytes"
	"encoding/json"
	"strconv"

	"cellsync/backend"
)

// envelope wraps every engine response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type wireMeta struct {
	Label    string   `json:"ws_label"`
	Syncable flexBool `json:"ws_syncable"`
	Name     string   `json:"name"`
}

type wireNode struct {
	UUID string   `json:"Uuid"`
	Path string   `json:"Path"`
	Type string   `json:"Type"`
	ETag string   `json:"Etag"`
	Meta wireMeta `json:"MetaStore"`
}

type wireUnit struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

type wireTask struct {
	UUID           string   `json:"uuid"`
	LocalDir       string   `json:"localDir"`
	Ignores        []string `json:"ignores"`
	RemoteDir      wireNode `json:"remoteDir"`
	Paused         bool     `json:"paused"`
	RepeatInterval float64  `json:"repeatInterval"`
	Unit           wireUnit `json:"repeatIntervalUnit"`
}

// flexBool decodes true/false as well as the strings the engine sometimes sends.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseBool(s)
		*b = flexBool(err == nil && v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

func toWireNode(n backend.RemoteNode) wireNode {
	return wireNode{
		UUID: n.UUID,
		Path: n.Path,
		Type: n.Type,
		ETag: n.ETag,
		Meta: wireMeta{Label: n.Meta.Label, Syncable: flexBool(n.Meta.Syncable), Name: n.Meta.Name},
	}
}

func fromWireNode(w wireNode) backend.RemoteNode {
	return backend.RemoteNode{
		UUID: w.UUID,
		Path: w.Path,
		Type: w.Type,
		ETag: w.ETag,
		Meta: backend.NodeMeta{Label: w.Meta.Label, Syncable: bool(w.Meta.Syncable), Name: w.Meta.Name},
	}
}

func toWireTask(t backend.Task) wireTask {
	ignores := t.Ignores
	if ignores == nil {
		ignores = []string{}
	}
	return wireTask{
		UUID:           t.ID,
		LocalDir:       t.LocalPath,
		Ignores:        ignores,
		RemoteDir:      toWireNode(t.Remote),
		Paused:         !t.Active,
		RepeatInterval: t.Interval,
		Unit:           wireUnit{Name: string(t.Unit), Level: t.Unit.Seconds()},
	}
}
