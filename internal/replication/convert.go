package replication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/storage"
)

func revHash(rev string) string {
	_, hash, _ := strings.Cut(rev, "-")
	return hash
}

// revisionsFor builds the CouchDB history of rev from its local ancestors,
// stopping at the first gap in generations.
func revisionsFor(rev string, history []string) revisions {
	start := storage.RevGeneration(rev)
	revs := revisions{Start: start, IDs: []string{revHash(rev)}}
	expect := start - 1
	for _, h := range history {
		if storage.RevGeneration(h) != expect {
			break
		}
		revs.IDs = append(revs.IDs, revHash(h))
		expect--
	}
	return revs
}

// toRemote renders a local revision as a CouchDB document.
func toRemote(doc *model.Document, history []string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc.Body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", doc.ID, err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	out["_id"] = doc.ID
	out["_rev"] = doc.Rev
	out["_revisions"] = revisionsFor(doc.Rev, history)
	if doc.Deleted {
		out["_deleted"] = true
	}
	return out, nil
}

// fromRemote turns a CouchDB document fetched with revs=true into a local
// revision and its ancestors, newest first.
func fromRemote(remote map[string]any) (model.Document, []string, error) {
	id, _ := remote["_id"].(string)
	rev, _ := remote["_rev"].(string)
	if id == "" || rev == "" {
		return model.Document{}, nil, fmt.Errorf("remote document without _id or _rev")
	}
	deleted, _ := remote["_deleted"].(bool)

	var history []string
	if raw, ok := remote["_revisions"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return model.Document{}, nil, err
		}
		var revs revisions
		if err := json.Unmarshal(encoded, &revs); err != nil {
			return model.Document{}, nil, fmt.Errorf("bad _revisions on %s: %w", id, err)
		}
		for i := 1; i < len(revs.IDs); i++ {
			history = append(history, fmt.Sprintf("%d-%s", revs.Start-i, revs.IDs[i]))
		}
	}

	body := make(map[string]any, len(remote))
	for k, v := range remote {
		if !strings.HasPrefix(k, "_") {
			body[k] = v
		}
	}
	if _, ok := body["id"]; !ok {
		body["id"] = id
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return model.Document{}, nil, err
	}

	return model.Document{ID: id, Rev: rev, Body: encoded, Deleted: deleted}, history, nil
}

// householdOf reads the tenant tag of a stored body.
func householdOf(body []byte) string {
	var tagged struct {
		HouseholdID string `json:"householdId"`
	}
	_ = json.Unmarshal(body, &tagged)
	return tagged.HouseholdID
}
