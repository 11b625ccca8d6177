package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"reqlens/internal/domain"
)

const (
	creatorName    = "reqlens"
	creatorVersion = "0.1.0"
	harVersion     = "1.2"
)

// HAR 1.2 document structure. Headers are ordered slices so duplicate
// headers and wire order survive the round trip; `_tags` is a custom
// extension field (underscore-prefixed per the HAR spec).
type Document struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string            `json:"version"`
	Creator Creator           `json:"creator"`
	Entries []json.RawMessage `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            int64    `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Tags            []string `json:"_tags,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Query struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Request struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HTTPVersion string    `json:"httpVersion"`
	Headers     []Header  `json:"headers"`
	QueryString []Query   `json:"queryString"`
	PostData    *PostData `json:"postData,omitempty"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

type Response struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	HTTPVersion string   `json:"httpVersion"`
	Headers     []Header `json:"headers"`
	Content     Content  `json:"content"`
	RedirectURL string   `json:"redirectURL"`
	HeadersSize int      `json:"headersSize"`
	BodySize    int      `json:"bodySize"`
}

// Export writes txs as a HAR 1.2 document. Binary bodies are base64
// encoded; text bodies are embedded verbatim.
func Export(w io.Writer, txs []domain.Transaction) error {
	entries := make([]json.RawMessage, 0, len(txs))
	for _, tx := range txs {
		raw, err := json.Marshal(toEntry(tx))
		if err != nil {
			return err
		}
		entries = append(entries, raw)
	}
	doc := Document{Log: Log{
		Version: harVersion,
		Creator: Creator{Name: creatorName, Version: creatorVersion},
		Entries: entries,
	}}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Import parses a HAR document. Each entry is decoded independently:
// malformed entries yield a ParseError carrying the entry index while
// every well-formed entry, before or after the bad one, is still
// returned. A broken envelope fails outright with index -1.
func Import(r io.Reader) ([]domain.Transaction, []domain.ParseError, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, &domain.ParseError{Index: -1, Err: err}
	}
	txs := make([]domain.Transaction, 0, len(doc.Log.Entries))
	var parseErrs []domain.ParseError
	for i, raw := range doc.Log.Entries {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			parseErrs = append(parseErrs, domain.ParseError{Index: i, Err: err})
			continue
		}
		tx, err := fromEntry(e)
		if err != nil {
			parseErrs = append(parseErrs, domain.ParseError{Index: i, Err: err})
			continue
		}
		txs = append(txs, tx)
	}
	return txs, parseErrs, nil
}

func toEntry(tx domain.Transaction) Entry {
	e := Entry{
		StartedDateTime: tx.CapturedAt.UTC().Format(time.RFC3339Nano),
		Request: Request{
			Method:      tx.Request.Method,
			URL:         tx.Request.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     toHeaders(tx.Request.Headers),
			QueryString: toQuery(tx.Request.Query),
			HeadersSize: -1,
			BodySize:    len(tx.Request.Body),
		},
		Response: Response{
			HTTPVersion: "HTTP/1.1",
			Headers:     []Header{},
			HeadersSize: -1,
			BodySize:    -1,
			Content:     Content{Size: 0},
		},
		Tags: tx.Tags,
	}
	if len(tx.Request.Body) > 0 {
		pd := &PostData{MimeType: tx.Request.MimeType}
		pd.Text, pd.Encoding = encodeBody(tx.Request.Body)
		e.Request.PostData = pd
	}
	if tx.Response != nil {
		e.Time = tx.Response.DurationMs
		e.Response.Status = tx.Response.StatusCode
		e.Response.StatusText = http.StatusText(tx.Response.StatusCode)
		e.Response.Headers = toHeaders(tx.Response.Headers)
		e.Response.BodySize = len(tx.Response.Body)
		e.Response.Content = Content{
			Size:     len(tx.Response.Body),
			MimeType: domain.HeaderValue(tx.Response.Headers, "Content-Type"),
		}
		if len(tx.Response.Body) > 0 {
			e.Response.Content.Text, e.Response.Content.Encoding = encodeBody(tx.Response.Body)
		}
	}
	return e
}

func fromEntry(e Entry) (domain.Transaction, error) {
	if e.Request.Method == "" {
		return domain.Transaction{}, fmt.Errorf("entry missing request method")
	}
	if e.Request.URL == "" {
		return domain.Transaction{}, fmt.Errorf("entry missing request url")
	}
	tx := domain.Transaction{
		Source: domain.SourceImported,
		Status: domain.StatusPending,
		Tags:   e.Tags,
		Request: domain.Request{
			Method:  e.Request.Method,
			URL:     e.Request.URL,
			Headers: fromHeaders(e.Request.Headers),
		},
	}
	if ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime); err == nil {
		tx.CapturedAt = ts.UTC()
	} else {
		// origin schema lacked a usable timestamp: normalize to import time
		tx.CapturedAt = time.Now().UTC()
	}
	if e.Request.PostData != nil && e.Request.PostData.Text != "" {
		body, err := decodeBody(e.Request.PostData.Text, e.Request.PostData.Encoding)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("request body: %w", err)
		}
		tx.Request.Body = body
	}
	tx.Request.ParseURL()
	if e.Response.Status > 0 {
		resp := &domain.Response{
			StatusCode: e.Response.Status,
			Headers:    fromHeaders(e.Response.Headers),
			DurationMs: e.Time,
		}
		if e.Response.Content.Text != "" {
			body, err := decodeBody(e.Response.Content.Text, e.Response.Content.Encoding)
			if err != nil {
				return domain.Transaction{}, fmt.Errorf("response body: %w", err)
			}
			resp.Body = body
		}
		tx.Response = resp
		tx.Status = domain.StatusCompleted
		done := tx.CapturedAt.Add(time.Duration(e.Time) * time.Millisecond)
		tx.CompletedAt = &done
	}
	return tx, nil
}

func encodeBody(b []byte) (text, encoding string) {
	if utf8.Valid(b) {
		return string(b), ""
	}
	return base64.StdEncoding.EncodeToString(b), "base64"
}

func decodeBody(text, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(text)
	}
	if encoding != "" {
		return nil, fmt.Errorf("unsupported body encoding %q", encoding)
	}
	return []byte(text), nil
}

func toHeaders(hs []domain.Header) []Header {
	out := make([]Header, 0, len(hs))
	for _, h := range hs {
		out = append(out, Header{Name: h.Name, Value: h.Value})
	}
	return out
}

func fromHeaders(hs []Header) []domain.Header {
	if len(hs) == 0 {
		return nil
	}
	out := make([]domain.Header, 0, len(hs))
	for _, h := range hs {
		out = append(out, domain.Header{Name: h.Name, Value: h.Value})
	}
	return out
}

func toQuery(raw string) []Query {
	// parsed pair by pair from the raw string: url.Values is a map and
	// would lose parameter order
	out := []Query{}
	for raw != "" {
		var pair string
		pair, raw, _ = cut(raw, '&')
		if pair == "" {
			continue
		}
		name, value, _ := cut(pair, '=')
		out = append(out, Query{Name: decodeQueryComponent(name), Value: decodeQueryComponent(value)})
	}
	return out
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func decodeQueryComponent(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	return s
}
