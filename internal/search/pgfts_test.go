package search

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildSearchQueryWithText(t *testing.T) {
	query, args := buildSearchQuery(Query{
		Text:      "retro notes",
		Category:  "Meeting Notes",
		Tag:       "q3",
		UserID:    "usr_1",
		CompanyID: "co_1",
		Limit:     10,
		Offset:    20,
	})

	if !strings.Contains(query, "plainto_tsquery('english', $1)") {
		t.Fatalf("expected tsquery clause on $1, got:\n%s", query)
	}
	if !strings.Contains(query, "ts_rank") {
		t.Errorf("expected rank ordering, got:\n%s", query)
	}
	if !strings.Contains(query, "ts_headline") {
		t.Errorf("expected headline snippet, got:\n%s", query)
	}
	if !strings.Contains(query, "LIMIT 10 OFFSET 20") {
		t.Errorf("expected paging clause, got:\n%s", query)
	}

	want := []any{"retro notes", "usr_1", "co_1", "Meeting Notes", "q3"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestBuildSearchQueryBlankTextKeepsFilters(t *testing.T) {
	query, args := buildSearchQuery(Query{
		Text:   "   ",
		Tag:    "homework",
		UserID: "usr_1",
	})

	if strings.Contains(query, "plainto_tsquery") {
		t.Fatalf("blank text must not add a tsquery clause, got:\n%s", query)
	}
	if !strings.Contains(query, "document_tags") {
		t.Fatalf("tag filter dropped from filter-only query:\n%s", query)
	}
	if !strings.Contains(query, "ORDER BY d.uploaded_at DESC") {
		t.Errorf("filter-only queries should order by recency, got:\n%s", query)
	}
	if !strings.Contains(query, "'' AS snippet") {
		t.Errorf("expected empty snippet without query text, got:\n%s", query)
	}
	if !strings.Contains(query, "d.deleted_at IS NULL") {
		t.Errorf("deleted documents must stay excluded, got:\n%s", query)
	}

	want := []any{"usr_1", "", "homework"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestBuildSearchQueryVisibilityUnionAlwaysApplied(t *testing.T) {
	query, _ := buildSearchQuery(Query{UserID: "usr_9", CompanyID: "co_2"})

	for _, clause := range []string{"d.uploaded_by =", "d.company_id =", "document_visibility"} {
		if !strings.Contains(query, clause) {
			t.Errorf("visibility clause %q missing from:\n%s", clause, query)
		}
	}
	if !strings.Contains(query, "LIMIT 20 OFFSET 0") {
		t.Errorf("expected default paging, got:\n%s", query)
	}
}
