package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salescycle/internal/resilience"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler) (Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	require.NotNil(t, sf)

	return NewClient(sf), ts
}

func TestSFClient_Query(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/query")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalSize": 1,
			"done":      true,
			"records": []map[string]any{
				{
					"attributes":      map[string]any{"type": "Stage__c"},
					"Id":              "a01xx",
					"Account__c":      "001xx",
					"Installation__c": "a02xx",
					"Type__c":         "sales",
					"CreatedDate":     "2024-01-02T09:00:00.000+0000",
				},
			},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	var stages []stageRecord
	err := client.Query(context.Background(), buildSOQL("Stage__c", ""), &stages)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "a01xx", stages[0].ID)
	assert.Equal(t, "001xx", stages[0].AccountID)
	assert.Equal(t, "2024-01-02T09:00:00.000+0000", stages[0].CreatedDate)
}

func TestSFClient_Query_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"message": "invalid SOQL", "errorCode": "MALFORMED_QUERY"},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	var stages []stageRecord
	err := client.Query(context.Background(), "INVALID SOQL", &stages)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: query")
}

func TestSFClient_DescribeSObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// go-salesforce constructs URL as: InstanceUrl + /services/data/vXX.X + uri
		assert.Contains(t, r.URL.Path, "/sobjects/Stage__c/describe")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":  "Stage__c",
			"label": "Stage",
			"fields": []map[string]any{
				{"name": "Id", "label": "Record ID", "type": "id", "length": 18, "updateable": false},
				{"name": "Type__c", "label": "Type", "type": "picklist", "length": 255, "updateable": true},
			},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	desc, err := client.DescribeSObject(context.Background(), "Stage__c")
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "Stage__c", desc.Name)
	assert.Equal(t, "Stage", desc.Label)
	require.Len(t, desc.Fields, 2)
	assert.Equal(t, "Id", desc.Fields[0].Name)
	assert.False(t, desc.Fields[0].Updateable)
	assert.Equal(t, "Type__c", desc.Fields[1].Name)
	assert.True(t, desc.Fields[1].Updateable)
}

func TestSFClient_DescribeSObject_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"message": "sobject not found", "errorCode": "NOT_FOUND"},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	_, err := client.DescribeSObject(context.Background(), "NonExistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: describe")
}

func TestSFClient_Query_RetriesTransient(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"message": "Server unavailable", "errorCode": "SERVER_UNAVAILABLE"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": 0, "done": true, "records": []any{}})
	})
	ts := httptest.NewServer(handler)
	defer ts.Close()

	sf, err := gosf.Init(gosf.Creds{AccessToken: "test-token", Domain: ts.URL},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	client := NewClient(sf, WithRetry(resilience.Policy{
		Attempts:  2,
		Initial:   time.Millisecond,
		Retryable: func(error) bool { return true },
	}))

	var stages []stageRecord
	require.NoError(t, client.Query(context.Background(), buildSOQL("Stage__c", ""), &stages))
	assert.Equal(t, 2, calls)
	assert.Empty(t, stages)
}
