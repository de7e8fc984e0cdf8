package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/salescycle/internal/model"
)

// at parses "2006-01-02" or "2006-01-02 15:04" as UTC.
func at(t *testing.T, s string) time.Time {
	t.Helper()
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if v, err := time.Parse(layout, s); err == nil {
			return v
		}
	}
	require.FailNowf(t, "bad test time", "%q", s)
	return time.Time{}
}

func ptr(t time.Time) *time.Time { return &t }

func stage(t *testing.T, id, owner, typ, created string) model.StageInstance {
	t.Helper()
	return model.StageInstance{ID: id, OwnerID: owner, EntityID: "ent-" + owner, Type: typ, CreatedAt: at(t, created)}
}

func primary(t *testing.T, id, owner, created string) model.StageInstance {
	t.Helper()
	return stage(t, id, owner, "sales", created)
}

func secondary(t *testing.T, id, owner, created string) model.StageInstance {
	t.Helper()
	return stage(t, id, owner, "delivery", created)
}

// doc builds a document; attrs are key/value pairs.
func doc(id, instanceID, docType string, attrs ...string) model.Document {
	d := model.Document{ID: id, StageInstanceID: instanceID, DocType: docType}
	if len(attrs) > 0 {
		d.Attributes = make(map[string]string, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			d.Attributes[attrs[i]] = attrs[i+1]
		}
	}
	return d
}

// productDoc marks instanceID as in scope for the default product.
func productDoc(instanceID string) model.Document {
	return doc("docu-"+instanceID, instanceID, "documentation", "type", "solar")
}

func approval(t *testing.T, docID, when string) model.ApprovalEvent {
	t.Helper()
	return model.ApprovalEvent{DocID: docID, Kind: "document_approval", CreatedAt: at(t, when)}
}

func runEngine(t *testing.T, snap *model.Snapshot) ([]model.Cycle, *model.RunStats) {
	t.Helper()
	eng, err := NewEngine(DefaultRules(), 4)
	require.NoError(t, err)
	cycles, stats, err := eng.Run(t.Context(), snap)
	require.NoError(t, err)
	return cycles, stats
}

func cycleByID(t *testing.T, cycles []model.Cycle, id string) model.Cycle {
	t.Helper()
	for _, c := range cycles {
		if c.PrimaryInstanceID == id {
			return c
		}
	}
	require.FailNowf(t, "cycle not found", "%s", id)
	return model.Cycle{}
}
