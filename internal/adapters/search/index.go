package search

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"reqlens/internal/domain"
)

// doc is the indexed projection of one transaction. Rebuilt wholesale on
// every Index call so readers see either the pre- or post-update state,
// never a torn one.
type doc struct {
	seq      uint64
	id       string
	method   string
	status   int
	url      string
	host     string
	path     string
	source   string
	txStatus string
	replayed bool
	tags     []string
	headers  []domain.Header
	// text is the lowercased substring-search blob: URL, header
	// names/values, and the body when it is text.
	text string
}

// Index is the incremental search index. Substring queries scan the text
// blob; field queries are expr predicates compiled once per query string.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*doc

	pmu      sync.Mutex
	programs map[string]*vm.Program
}

func New() *Index {
	return &Index{
		docs:     make(map[string]*doc, 256),
		programs: make(map[string]*vm.Program),
	}
}

// Index upserts the projection for tx. Idempotent: re-indexing the same
// transaction replaces the previous document.
func (ix *Index) Index(tx domain.Transaction) {
	d := project(tx)
	ix.mu.Lock()
	ix.docs[tx.ID] = d
	ix.mu.Unlock()
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	delete(ix.docs, id)
	ix.mu.Unlock()
}

// Reset clears the index ahead of a full rebuild.
func (ix *Index) Reset() {
	ix.mu.Lock()
	ix.docs = make(map[string]*doc, len(ix.docs))
	ix.mu.Unlock()
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Query matches q as a case-insensitive substring over URL, headers, and
// text bodies. Results come back in capture order; from is an exclusive
// cursor id and the returned cursor is "" when exhausted.
func (ix *Index) Query(q, from string, limit int) ([]string, string, error) {
	needle := strings.ToLower(q)
	return ix.collect(from, limit, func(d *doc) (bool, error) {
		return needle == "" || strings.Contains(d.text, needle), nil
	})
}

// QueryExpr evaluates q as a boolean expr predicate per document. The
// environment exposes method, status, url, host, path, source, state,
// replayed, tags, and the helpers hasTag(t) / hasHeader(name) /
// header(name).
func (ix *Index) QueryExpr(q, from string, limit int) ([]string, string, error) {
	program, err := ix.compile(q)
	if err != nil {
		return nil, "", err
	}
	return ix.collect(from, limit, func(d *doc) (bool, error) {
		out, err := expr.Run(program, d.env())
		if err != nil {
			return false, err
		}
		b, _ := out.(bool)
		return b, nil
	})
}

func (ix *Index) compile(q string) (*vm.Program, error) {
	ix.pmu.Lock()
	defer ix.pmu.Unlock()
	if p, ok := ix.programs[q]; ok {
		return p, nil
	}
	p, err := expr.Compile(q, expr.Env(map[string]any{}), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	ix.programs[q] = p
	return p, nil
}

func (ix *Index) collect(from string, limit int, match func(*doc) (bool, error)) ([]string, string, error) {
	ix.mu.RLock()
	docs := make([]*doc, 0, len(ix.docs))
	for _, d := range ix.docs {
		docs = append(docs, d)
	}
	ix.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })

	matched := make([]string, 0, len(docs))
	for _, d := range docs {
		ok, err := match(d)
		if err != nil {
			return nil, "", err
		}
		if ok {
			matched = append(matched, d.id)
		}
	}
	start := 0
	if from != "" {
		for i, id := range matched {
			if id == from {
				start = i + 1
				break
			}
		}
	}
	end := len(matched)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	next := ""
	if end < len(matched) && end > start {
		next = matched[end-1]
	}
	return matched[start:end], next, nil
}

func (d *doc) env() map[string]any {
	return map[string]any{
		"method":   d.method,
		"status":   d.status,
		"url":      d.url,
		"host":     d.host,
		"path":     d.path,
		"source":   d.source,
		"state":    d.txStatus,
		"replayed": d.replayed,
		"tags":     d.tags,
		"hasTag": func(tag string) bool {
			for _, t := range d.tags {
				if t == tag {
					return true
				}
			}
			return false
		},
		"hasHeader": func(name string) bool {
			return domain.HeaderValue(d.headers, name) != ""
		},
		"header": func(name string) string {
			return domain.HeaderValue(d.headers, name)
		},
	}
}

func project(tx domain.Transaction) *doc {
	status := 0
	headers := append([]domain.Header(nil), tx.Request.Headers...)
	var b strings.Builder
	b.WriteString(strings.ToLower(tx.Request.URL))
	b.WriteByte('\n')
	for _, h := range tx.Request.Headers {
		b.WriteString(strings.ToLower(h.Name))
		b.WriteString(": ")
		b.WriteString(strings.ToLower(h.Value))
		b.WriteByte('\n')
	}
	if utf8.Valid(tx.Request.Body) {
		b.WriteString(strings.ToLower(string(tx.Request.Body)))
		b.WriteByte('\n')
	}
	if tx.Response != nil {
		status = tx.Response.StatusCode
		headers = append(headers, tx.Response.Headers...)
		for _, h := range tx.Response.Headers {
			b.WriteString(strings.ToLower(h.Name))
			b.WriteString(": ")
			b.WriteString(strings.ToLower(h.Value))
			b.WriteByte('\n')
		}
		if utf8.Valid(tx.Response.Body) {
			b.WriteString(strings.ToLower(string(tx.Response.Body)))
		}
	}
	return &doc{
		seq:      tx.Seq,
		id:       tx.ID,
		method:   tx.Request.Method,
		status:   status,
		url:      tx.Request.URL,
		host:     tx.Request.Host,
		path:     tx.Request.Path,
		source:   string(tx.Source),
		txStatus: string(tx.Status),
		replayed: tx.Replayed,
		tags:     append([]string(nil), tx.Tags...),
		headers:  headers,
		text:     b.String(),
	}
}
