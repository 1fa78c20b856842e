package schema

import (
	"encoding/json"
	"testing"
)

func TestDocumentDecodesStringOrObject(t *testing.T) {
	payload := `{"documents":["plain text",{"title":"Q3","content":"revenue up"}],"processing_kind":"summarize"}`

	var req BatchSubmitRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(req.Documents))
	}
	if req.Documents[0].Content != "plain text" || req.Documents[0].Title != "" {
		t.Fatalf("string document decoded as %+v", req.Documents[0])
	}
	if req.Documents[1].Title != "Q3" || req.Documents[1].Content != "revenue up" {
		t.Fatalf("object document decoded as %+v", req.Documents[1])
	}
}

func TestDocumentRejectsOtherShapes(t *testing.T) {
	var d Document
	if err := json.Unmarshal([]byte(`42`), &d); err == nil {
		t.Fatalf("expected error for numeric document")
	}
}

func TestRequestOverride(t *testing.T) {
	if (Request{Query: "x"}).HasOverride() {
		t.Fatalf("empty kind should not count as override")
	}
	if !(Request{Query: "x", WorkerKind: "coach"}).HasOverride() {
		t.Fatalf("expected override")
	}
}
