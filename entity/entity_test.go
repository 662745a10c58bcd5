package entity

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func transferSchema() *Schema {
	return &Schema{
		Name: "Transfer",
		Fields: []Field{
			{Name: "from", Type: String, Required: true},
			{Name: "amount", Type: Int},
			{Name: "blockNumber", Type: Int},
			{Name: "meta", Type: JSON},
		},
		Historical: true,
	}
}

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Transfer", "transfer"},
		{"blockNumber", "block_number"},
		{"HTTPServer", "http_server"},
		{"ID", "id"},
		{"field1", "field_1"},
		{"Transfer.from", "transfer_from"},
		{"block-number", "block_number"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := snakeCase(tt.in); got != tt.want {
			t.Errorf("snakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSchemaNames(t *testing.T) {
	s := transferSchema()
	if s.TableName() != "transfer" {
		t.Errorf("expected table transfer, got %s", s.TableName())
	}
	f, ok := s.Field("blockNumber")
	if !ok {
		t.Fatal("expected blockNumber field")
	}
	if f.ColumnName() != "block_number" {
		t.Errorf("expected column block_number, got %s", f.ColumnName())
	}
	if id, ok := s.Field(IDField); !ok || id.Type != String {
		t.Errorf("expected implicit string id field, got %+v", id)
	}
}

func TestSchemaCheck(t *testing.T) {
	if err := transferSchema().Check(); err != nil {
		t.Fatalf("expected valid schema, got %v", err)
	}

	dup := &Schema{Name: "X", Fields: []Field{{Name: "a"}, {Name: "b", Column: "a"}}}
	if err := dup.Check(); err == nil {
		t.Error("expected duplicate column error")
	}

	withID := &Schema{Name: "X", Fields: []Field{{Name: IDField}}}
	if err := withID.Check(); err == nil {
		t.Error("expected error for declared id field")
	}

	if err := (&Schema{}).Check(); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestSchemaValidate(t *testing.T) {
	s := transferSchema()

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"valid", Record{"id": "t1", "from": "0xa", "amount": 5}, false},
		{"missing id", Record{"from": "0xa"}, true},
		{"missing required", Record{"id": "t1"}, true},
		{"nil required", Record{"id": "t1", "from": nil}, true},
		{"wrong type", Record{"id": "t1", "from": "0xa", "amount": "lots"}, true},
		{"unknown field", Record{"id": "t1", "from": "0xa", "to": "0xb"}, true},
		{"nil record", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !goerrors.IsValidation(err) {
				t.Errorf("expected validation category, got %v", err)
			}
		})
	}
}

func TestSchemaNormalize(t *testing.T) {
	s := transferSchema()
	rec, err := s.Normalize(Record{"id": "t1", "from": "0xa", "amount": 7, "meta": `{"k":1}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["amount"] != int64(7) {
		t.Errorf("expected int64 amount, got %T", rec["amount"])
	}
	if _, ok := rec["blockNumber"]; !ok || rec["blockNumber"] != nil {
		t.Errorf("expected missing optional field to be nil, got %v", rec["blockNumber"])
	}
	meta, ok := rec["meta"].(map[string]any)
	if !ok || meta["k"] != float64(1) {
		t.Errorf("expected decoded json meta, got %#v", rec["meta"])
	}

	if _, err := s.Normalize(Record{"id": "t1", "amount": "x"}); err == nil {
		t.Error("expected coercion error")
	}
}

func TestFieldEncode(t *testing.T) {
	f := Field{Name: "meta", Type: JSON}
	v, err := f.Encode(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != `{"a":1}` {
		t.Errorf("expected json text, got %v", v)
	}
	if v, _ := (Field{Type: Int}).Encode(nil); v != nil {
		t.Errorf("expected nil, got %v", v)
	}
}

func TestFilterMatch(t *testing.T) {
	rec := Record{"id": "a", "n": int64(3), "s": "x", "empty": nil}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq across int types", Eq("n", 3), true},
		{"eq miss", Eq("s", "y"), false},
		{"neq", Filter{Field: "s", Op: OpNotEqual, Value: "y"}, true},
		{"eq nil", Eq("empty", nil), true},
		{"neq nil", Filter{Field: "empty", Op: OpNotEqual, Value: "x"}, true},
		{"in", Filter{Field: "s", Op: OpIn, Value: []string{"w", "x"}}, true},
		{"in miss", Filter{Field: "s", Op: OpIn, Value: []string{"w"}}, false},
		{"not in", Filter{Field: "n", Op: OpNotIn, Value: []int{1, 2}}, true},
		{"not in hit", Filter{Field: "n", Op: OpNotIn, Value: []int{3}}, false},
		{"in with scalar", Filter{Field: "n", Op: OpIn, Value: 3}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Match(rec[tt.filter.Field]); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}

	if !Matches(rec, []Filter{Eq("n", 3), Eq("s", "x")}) {
		t.Error("expected all filters to match")
	}
	if Matches(rec, []Filter{Eq("n", 3), Eq("s", "z")}) {
		t.Error("expected conjunction to fail")
	}
}

func TestCheckFilters(t *testing.T) {
	s := transferSchema()
	if err := s.CheckFilters([]Filter{Eq("from", "0xa"), Eq(IDField, "t")}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.CheckFilters([]Filter{Eq("nope", 1)}); err == nil {
		t.Error("expected unknown field error")
	}
	if err := s.CheckFilters([]Filter{{Field: "from", Op: "<", Value: 1}}); err == nil {
		t.Error("expected operator error")
	}
	if err := s.CheckFilters([]Filter{{Field: "from", Op: OpIn, Value: "x"}}); err == nil {
		t.Error("expected slice error")
	}
}

func TestSortRecords(t *testing.T) {
	recs := []Record{
		{"id": "c", "n": int64(2)},
		{"id": "a", "n": int64(2)},
		{"id": "b", "n": int64(1)},
		{"id": "d", "n": nil},
	}

	got := SortRecords(append([]Record(nil), recs...), QueryOptions{OrderBy: "n"})
	want := []string{"d", "b", "a", "c"}
	for i, id := range want {
		if got[i].ID() != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID(), id)
		}
	}

	got = SortRecords(append([]Record(nil), recs...), QueryOptions{Desc: true, Offset: 1, Limit: 2})
	if len(got) != 2 || got[0].ID() != "c" || got[1].ID() != "b" {
		t.Errorf("unexpected page: %v", got)
	}

	if got := SortRecords(append([]Record(nil), recs...), QueryOptions{Offset: 10}); len(got) != 0 {
		t.Errorf("expected empty page, got %d", len(got))
	}
}

func TestRecordOverlay(t *testing.T) {
	base := Record{"id": "a", "x": 1, "y": 2}
	got := base.Overlay(Record{"id": "a", "x": 10, "y": 20}, "x")
	if got["x"] != 10 || got["y"] != 2 {
		t.Errorf("unexpected overlay: %v", got)
	}
	if base["x"] != 1 {
		t.Error("overlay must not mutate the receiver")
	}

	full := Record(nil).Overlay(Record{"id": "b", "z": 3})
	if full.ID() != "b" || full["z"] != 3 {
		t.Errorf("unexpected full overlay: %v", full)
	}
}

func TestCoerce(t *testing.T) {
	if v, err := Coerce(Int, "42"); err != nil || v != int64(42) {
		t.Errorf("expected 42, got %v (%v)", v, err)
	}
	if _, err := Coerce(Int, 1.5); err == nil {
		t.Error("expected error for fractional int")
	}
	if v, err := Coerce(Bool, int64(1)); err != nil || v != true {
		t.Errorf("expected true, got %v (%v)", v, err)
	}
	if _, err := Coerce(Float, struct{}{}); err == nil {
		t.Error("expected error for struct float")
	}
}
