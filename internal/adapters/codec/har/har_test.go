package har

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqlens/internal/domain"
)

func sampleTx(id string) domain.Transaction {
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	done := started.Add(120 * time.Millisecond)
	return domain.Transaction{
		ID:          id,
		Status:      domain.StatusCompleted,
		Source:      domain.SourceCaptured,
		CapturedAt:  started,
		CompletedAt: &done,
		Tags:        []string{"checkout"},
		Request: domain.Request{
			Method: "POST",
			URL:    "https://shop.test/cart?item=7&qty=2",
			Headers: []domain.Header{
				{Name: "Content-Type", Value: "application/json"},
				{Name: "X-Trace", Value: "a"},
				{Name: "X-Trace", Value: "b"}, // duplicate, order matters
				{Name: "ACCEPT", Value: "*/*"},
			},
			Body: []byte(`{"item":7}`),
		},
		Response: &domain.Response{
			StatusCode: 201,
			Headers: []domain.Header{
				{Name: "Content-Type", Value: "application/json"},
				{Name: "Set-Cookie", Value: "a=1"},
				{Name: "Set-Cookie", Value: "b=2"},
			},
			Body:       []byte(`{"ok":true}`),
			DurationMs: 120,
		},
	}
}

func TestRoundTripPreservesFidelity(t *testing.T) {
	in := []domain.Transaction{sampleTx("t1"), sampleTx("t2")}
	in[1].Request.Body = []byte{0x00, 0x01, 0xfe, 0xff} // binary, forces base64

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, in))

	out, parseErrs, err := Import(&buf)
	require.NoError(t, err)
	require.Empty(t, parseErrs)
	require.Len(t, out, len(in))

	for i := range in {
		assert.Equal(t, in[i].Request.Method, out[i].Request.Method)
		assert.Equal(t, in[i].Request.URL, out[i].Request.URL)
		assert.Equal(t, in[i].Request.Headers, out[i].Request.Headers, "request header order/casing")
		assert.Equal(t, in[i].Request.Body, out[i].Request.Body, "request body bytes")
		assert.Equal(t, in[i].Response.StatusCode, out[i].Response.StatusCode)
		assert.Equal(t, in[i].Response.Headers, out[i].Response.Headers, "response header order")
		assert.Equal(t, in[i].Response.Body, out[i].Response.Body)
		assert.Equal(t, in[i].Tags, out[i].Tags)
		assert.Equal(t, domain.SourceImported, out[i].Source)
		assert.True(t, in[i].CapturedAt.Equal(out[i].CapturedAt))
	}
}

func TestExportIsValidHAR(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, []domain.Transaction{sampleTx("t1")}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	log := doc["log"].(map[string]any)
	assert.Equal(t, "1.2", log["version"])
	entries := log["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "2026-03-14T09:26:53Z", entry["startedDateTime"])
	req := entry["request"].(map[string]any)
	assert.Equal(t, "POST", req["method"])
	qs := req["queryString"].([]any)
	require.Len(t, qs, 2)
	assert.Equal(t, "item", qs[0].(map[string]any)["name"])
}

func TestPartialImportKeepsGoodRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, []domain.Transaction{
		sampleTx("t1"), sampleTx("t2"), sampleTx("t3"), sampleTx("t4"), sampleTx("t5"),
	}))
	// corrupt record #3 (index 2): wrong type for the request object
	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	doc.Log.Entries[2] = json.RawMessage(`{"startedDateTime":"x","request":42}`)
	corrupted, err := json.Marshal(doc)
	require.NoError(t, err)

	out, parseErrs, err := Import(bytes.NewReader(corrupted))
	require.NoError(t, err)
	assert.Len(t, out, 4, "records before and after the bad one survive")
	require.Len(t, parseErrs, 1)
	assert.Equal(t, 2, parseErrs[0].Index)
}

func TestImportRejectsEntryWithoutMethod(t *testing.T) {
	raw := `{"log":{"version":"1.2","entries":[
		{"startedDateTime":"2026-01-01T00:00:00Z","request":{"url":"http://x"},"response":{}}
	]}}`
	out, parseErrs, err := Import(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, parseErrs, 1)
	assert.Equal(t, 0, parseErrs[0].Index)
	assert.Contains(t, parseErrs[0].Error(), "method")
}

func TestImportBrokenEnvelope(t *testing.T) {
	_, _, err := Import(strings.NewReader(`{"log": not-json`))
	require.Error(t, err)
	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, -1, pe.Index)
}

func TestImportWithoutTimestampNormalizesToImportTime(t *testing.T) {
	raw := `{"log":{"version":"1.2","entries":[
		{"request":{"method":"GET","url":"http://x/a","headers":[]},"response":{"status":200,"headers":[],"content":{}}}
	]}}`
	before := time.Now().UTC()
	out, parseErrs, err := Import(strings.NewReader(raw))
	require.NoError(t, err)
	require.Empty(t, parseErrs)
	require.Len(t, out, 1)
	assert.False(t, out[0].CapturedAt.Before(before))
	assert.Equal(t, domain.StatusCompleted, out[0].Status)
}

func TestImportEntryWithoutResponseStaysPending(t *testing.T) {
	raw := `{"log":{"version":"1.2","entries":[
		{"request":{"method":"GET","url":"http://x/a","headers":[]},"response":{"status":0}}
	]}}`
	out, parseErrs, err := Import(strings.NewReader(raw))
	require.NoError(t, err)
	require.Empty(t, parseErrs)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Response)
	assert.Equal(t, domain.StatusPending, out[0].Status)
}
