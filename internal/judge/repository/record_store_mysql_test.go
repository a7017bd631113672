package repository

import (
	"strings"
	"testing"

	"judgehub/internal/judge/model"
)

func TestBuildRecordUpdateSQL(t *testing.T) {
	status := model.StatusAccepted
	score := 100.0
	text := "done"
	query, args, err := buildRecordUpdateSQL("d1", "r1", model.RecordUpdate{
		Set:   model.RecordSet{Status: &status, Score: &score},
		Push:  model.RecordPush{TestCase: &model.TestCase{Status: model.StatusAccepted}, JudgeText: &text},
		Unset: []model.Field{model.FieldProgress},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, fragment := range []string{
		"status = ?",
		"score = ?",
		"test_cases = JSON_ARRAY_APPEND(test_cases, '$', CAST(? AS JSON))",
		"judge_texts = JSON_ARRAY_APPEND(judge_texts, '$', ?)",
		"progress = NULL",
		"WHERE domain_id = ? AND rid = ?",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query %q missing %q", query, fragment)
		}
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d: %v", len(args), args)
	}
	if args[len(args)-2] != "d1" || args[len(args)-1] != "r1" {
		t.Fatalf("identity args must come last: %v", args)
	}
}

func TestBuildRecordUpdateSQLEmpty(t *testing.T) {
	query, args, err := buildRecordUpdateSQL("d1", "r1", model.RecordUpdate{})
	if err != nil || query != "" || args != nil {
		t.Fatalf("expected empty query, got %q %v %v", query, args, err)
	}
}

func TestBuildRecordUpdateSQLRejectsUnknownField(t *testing.T) {
	_, _, err := buildRecordUpdateSQL("d1", "r1", model.RecordUpdate{Unset: []model.Field{"score"}})
	if err == nil {
		t.Fatalf("expected unsupported field error")
	}
}

func TestRecordCacheRoundTrip(t *testing.T) {
	judger := int64(4)
	rec := &model.Record{DomainID: "d1", ID: "r1", Judger: &judger}
	decoded, err := unmarshalRecord(marshalRecord(rec))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Judger == nil || *decoded.Judger != 4 {
		t.Fatalf("unexpected decoded record: %+v", decoded)
	}
}
