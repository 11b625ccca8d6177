package search

import (
	"fmt"
	"testing"

	"reqlens/internal/domain"
)

func doc1(id string, seq uint64, method, url string, status int, tags ...string) domain.Transaction {
	return domain.Transaction{
		ID:     id,
		Seq:    seq,
		Status: domain.StatusCompleted,
		Source: domain.SourceCaptured,
		Tags:   tags,
		Request: domain.Request{
			Method:  method,
			URL:     url,
			Headers: []domain.Header{{Name: "Accept", Value: "application/json"}},
			Body:    []byte("hello payload"),
		},
		Response: &domain.Response{StatusCode: status, Headers: []domain.Header{{Name: "X-Served-By", Value: "edge-7"}}},
	}
}

func TestSubstringMatchesURLHeadersBody(t *testing.T) {
	ix := New()
	ix.Index(doc1("a", 1, "GET", "https://api.test/users", 200))
	ix.Index(doc1("b", 2, "POST", "https://api.test/orders", 201))

	for _, tc := range []struct {
		q    string
		want []string
	}{
		{"orders", []string{"b"}},
		{"API.TEST", []string{"a", "b"}},
		{"x-served-by", []string{"a", "b"}},
		{"hello payload", []string{"a", "b"}},
		{"nope", nil},
	} {
		ids, _, err := ix.Query(tc.q, "", 0)
		if err != nil {
			t.Fatalf("query %q: %v", tc.q, err)
		}
		if fmt.Sprint(ids) != fmt.Sprint(tc.want) {
			t.Fatalf("query %q: got %v want %v", tc.q, ids, tc.want)
		}
	}
}

func TestExprPredicates(t *testing.T) {
	ix := New()
	ix.Index(doc1("a", 1, "GET", "https://api.test/users", 200, "slow"))
	ix.Index(doc1("b", 2, "POST", "https://api.test/orders", 404))

	for _, tc := range []struct {
		q    string
		want []string
	}{
		{`method == "GET"`, []string{"a"}},
		{`status >= 400`, []string{"b"}},
		{`hasTag("slow")`, []string{"a"}},
		{`hasHeader("Accept") && method == "POST"`, []string{"b"}},
		{`header("X-Served-By") == "edge-7"`, []string{"a", "b"}},
		{`source == "captured" && !replayed`, []string{"a", "b"}},
	} {
		ids, _, err := ix.QueryExpr(tc.q, "", 0)
		if err != nil {
			t.Fatalf("expr %q: %v", tc.q, err)
		}
		if fmt.Sprint(ids) != fmt.Sprint(tc.want) {
			t.Fatalf("expr %q: got %v want %v", tc.q, ids, tc.want)
		}
	}
}

func TestExprCompileErrorSurfaces(t *testing.T) {
	ix := New()
	ix.Index(doc1("a", 1, "GET", "https://api.test", 200))
	if _, _, err := ix.QueryExpr(`status ==`, "", 0); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestQueryCursorIsRestartable(t *testing.T) {
	ix := New()
	for i := 1; i <= 5; i++ {
		ix.Index(doc1(fmt.Sprintf("t%d", i), uint64(i), "GET", "https://api.test/page", 200))
	}
	page1, next, _ := ix.Query("page", "", 2)
	if len(page1) != 2 || page1[0] != "t1" || next != "t2" {
		t.Fatalf("page1=%v next=%q", page1, next)
	}
	page2, next, _ := ix.Query("page", next, 2)
	if len(page2) != 2 || page2[0] != "t3" || next != "t4" {
		t.Fatalf("page2=%v next=%q", page2, next)
	}
	// restarting from the same cursor yields the same page
	again, _, _ := ix.Query("page", "t2", 2)
	if fmt.Sprint(again) != fmt.Sprint(page2) {
		t.Fatalf("restart mismatch: %v vs %v", again, page2)
	}
	last, next, _ := ix.Query("page", next, 2)
	if len(last) != 1 || last[0] != "t5" || next != "" {
		t.Fatalf("last=%v next=%q", last, next)
	}
}

func TestRemoveAndReindex(t *testing.T) {
	ix := New()
	ix.Index(doc1("a", 1, "GET", "https://api.test/users", 200))
	ix.Remove("a")
	ids, _, _ := ix.Query("users", "", 0)
	if len(ids) != 0 {
		t.Fatalf("removed doc still matches: %v", ids)
	}
	// re-indexing an updated transaction replaces the projection
	tx := doc1("b", 2, "GET", "https://api.test/old", 200)
	ix.Index(tx)
	tx.Request.URL = "https://api.test/new"
	ix.Index(tx)
	if ids, _, _ := ix.Query("old", "", 0); len(ids) != 0 {
		t.Fatalf("stale projection survives reindex: %v", ids)
	}
	if ids, _, _ := ix.Query("new", "", 0); len(ids) != 1 {
		t.Fatalf("updated projection missing: %v", ids)
	}
}

func TestRebuildConvergesWithIncremental(t *testing.T) {
	incremental := New()
	var all []domain.Transaction
	for i := 1; i <= 10; i++ {
		tx := doc1(fmt.Sprintf("t%d", i), uint64(i), "GET", fmt.Sprintf("https://api.test/%d", i), 200)
		all = append(all, tx)
		incremental.Index(tx)
	}
	incremental.Remove("t3")
	rebuilt := New()
	for _, tx := range all {
		if tx.ID == "t3" {
			continue
		}
		rebuilt.Index(tx)
	}
	a, _, _ := incremental.Query("api.test", "", 0)
	b, _, _ := rebuilt.Query("api.test", "", 0)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Fatalf("rebuild diverges: %v vs %v", a, b)
	}
	// rebuild on a warm index is idempotent
	rebuilt.Reset()
	for _, tx := range all {
		if tx.ID != "t3" {
			rebuilt.Index(tx)
		}
	}
	c, _, _ := rebuilt.Query("api.test", "", 0)
	if fmt.Sprint(a) != fmt.Sprint(c) {
		t.Fatalf("reset+rebuild diverges: %v vs %v", a, c)
	}
}
