package changes

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/bundlepush/bundlepush/pkg/protocol"
)

func sampleResult() protocol.DryRunResult {
	return protocol.DryRunResult{
		{
			Changes: []protocol.ChangeRecord{
				{Path: "a.json", Action: protocol.ActionAdd},
				{Path: "b.json", Action: protocol.ActionEdit, Add: 3, Del: 1},
			},
			LocalFiles: []json.RawMessage{json.RawMessage(`"bots/a.json"`)},
		},
		{
			Changes: []protocol.ChangeRecord{
				{Path: "c.json", Action: protocol.ActionDelete},
			},
			LocalFiles: []json.RawMessage{json.RawMessage(`{"path":"c.json"}`)},
		},
	}
}

func TestClassifyScenario(t *testing.T) {
	c := Classify(sampleResult())

	if len(c.All) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(c.All))
	}
	if len(c.Blocking) != 2 {
		t.Fatalf("expected 2 blocking changes, got %d", len(c.Blocking))
	}
	if c.Blocking[0].Path != "b.json" || c.Blocking[1].Path != "c.json" {
		t.Errorf("unexpected blocking order: %+v", c.Blocking)
	}
	if c.All[0].Path != "a.json" {
		t.Errorf("add change should stay in All, got %+v", c.All[0])
	}
	if len(c.LocalFiles) != 2 {
		t.Errorf("expected 2 local files, got %d", len(c.LocalFiles))
	}
	if !c.HasBlocking() {
		t.Error("expected HasBlocking")
	}

	want := " o b.json (+3 / -1)\n - c.json"
	if got := Render(c.Blocking); got != want {
		t.Errorf("rendered:\n%q\nwant:\n%q", got, want)
	}
}

func TestClassifyBlockingIsOrderedSubsequence(t *testing.T) {
	recs := []protocol.ChangeRecord{
		{Path: "1", Action: protocol.ActionDelete},
		{Path: "2", Action: protocol.ActionAdd},
		{Path: "3", Action: protocol.ActionEdit},
		{Path: "4", Action: "rename"},
		{Path: "5", Action: protocol.ActionAdd},
		{Path: "6", Action: protocol.ActionDelete},
	}
	c := Classify(protocol.DryRunResult{{Changes: recs}})

	var paths []string
	for _, b := range c.Blocking {
		if b.Action == protocol.ActionAdd {
			t.Errorf("add action %s must never block", b.Path)
		}
		paths = append(paths, b.Path)
	}
	if !reflect.DeepEqual(paths, []string{"1", "3", "6"}) {
		t.Errorf("expected blocking [1 3 6], got %v", paths)
	}
	if len(c.Unknown) != 1 || c.Unknown[0].Path != "4" {
		t.Errorf("expected one unknown record, got %+v", c.Unknown)
	}
}

func TestClassifyFlatteningIsAssociative(t *testing.T) {
	first := sampleResult()[:1]
	second := sampleResult()[1:]

	whole := Classify(append(append(protocol.DryRunResult{}, first...), second...))
	split := append(Classify(first).All, Classify(second).All...)

	if !reflect.DeepEqual(whole.All, split) {
		t.Errorf("flattening differs:\n%+v\n%+v", whole.All, split)
	}
}

func TestClassifyEmpty(t *testing.T) {
	c := Classify(nil)
	if c.HasBlocking() || len(c.All) != 0 {
		t.Errorf("expected empty classification, got %+v", c)
	}
	if Render(c.Blocking) != "" {
		t.Error("expected empty render")
	}
}

func TestRenderLine(t *testing.T) {
	cases := []struct {
		rec  protocol.ChangeRecord
		want string
	}{
		{protocol.ChangeRecord{Path: "x", Action: protocol.ActionAdd}, " + x"},
		{protocol.ChangeRecord{Path: "x", Action: protocol.ActionDelete}, " - x"},
		{protocol.ChangeRecord{Path: "x", Action: protocol.ActionEdit, Add: 10, Del: 0}, " o x (+10 / -0)"},
		{protocol.ChangeRecord{Path: "x", Action: "chmod"}, ""},
		{protocol.ChangeRecord{Path: "x"}, ""},
	}
	for _, tc := range cases {
		if got := RenderLine(tc.rec); got != tc.want {
			t.Errorf("RenderLine(%+v) = %q, want %q", tc.rec, got, tc.want)
		}
		if again := RenderLine(tc.rec); again != RenderLine(tc.rec) {
			t.Errorf("RenderLine not deterministic for %+v", tc.rec)
		}
	}
}

func TestDecodeWireFormat(t *testing.T) {
	body := `[{"changes":[{"path":"flows/main.json","action":"edit","add":2,"del":5}],"localFiles":["x"]}]`

	var result protocol.DryRunResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := Classify(result)
	if got := Render(c.Blocking); got != " o flows/main.json (+2 / -5)" {
		t.Errorf("unexpected render %q", got)
	}
}
