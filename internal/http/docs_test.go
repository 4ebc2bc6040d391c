package httpapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/swaggo/swag"

	_ "shopsys/docs"
)

type openAPIParam struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type openAPIOperation struct {
	Parameters []openAPIParam `json:"parameters"`
}

type openAPIDoc struct {
	BasePath string                                 `json:"basePath"`
	Paths    map[string]map[string]openAPIOperation `json:"paths"`
}

func readDoc(t *testing.T) openAPIDoc {
	t.Helper()
	raw, err := swag.ReadDoc()
	if err != nil {
		t.Fatal(err)
	}
	var doc openAPIDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("swagger document is not json: %v", err)
	}
	return doc
}

func TestSwaggerDocCoversRoutes(t *testing.T) {
	s := setupServer(t)
	doc := readDoc(t)
	if doc.BasePath != "/api/v1" {
		t.Fatalf("basePath = %q", doc.BasePath)
	}

	for _, r := range s.Engine().Routes() {
		if !strings.HasPrefix(r.Path, doc.BasePath) {
			continue
		}
		path := strings.ReplaceAll(strings.TrimPrefix(r.Path, doc.BasePath), ":id", "{id}")
		if _, ok := doc.Paths[path][strings.ToLower(r.Method)]; !ok {
			t.Errorf("%s %s missing from swagger document", r.Method, path)
		}
	}
}

func TestSwaggerDocPageIsZeroBased(t *testing.T) {
	doc := readDoc(t)
	for _, p := range doc.Paths["/products"]["get"].Parameters {
		if p.Name == "page" {
			if !strings.Contains(p.Description, "starting at 0") {
				t.Fatalf("page description = %q", p.Description)
			}
			return
		}
	}
	t.Fatal("page parameter not documented")
}
