package cii

import (
	"encoding/json"
	"testing"
)

func TestNewDefaultsProtocolVersion(t *testing.T) {
	c := New()
	if !c.ProtocolVersion.IsDefined() || c.ProtocolVersion.Value() != "1.1" {
		t.Fatalf("protocolVersion = %+v, want defined 1.1", c.ProtocolVersion)
	}
	if got := c.DefinedProperties(); len(got) != 1 {
		t.Fatalf("DefinedProperties = %v, want exactly [protocolVersion]", got)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		base   CII
		delta  CII
		wantId string
	}{
		{
			name:   "sets an absent field",
			base:   New(),
			delta:  CII{ContentId: Set("abc")},
			wantId: "abc",
		},
		{
			name:   "overwrites a set field",
			base:   CII{ContentId: Set("old")},
			delta:  CII{ContentId: Set("new")},
			wantId: "new",
		},
		{
			name:   "OMIT leaves the stored value untouched",
			base:   CII{ContentId: Set("kept")},
			delta:  CII{ContentId: Omit[string]()},
			wantId: "kept",
		},
		{
			name:   "absent delta field leaves stored value untouched",
			base:   CII{ContentId: Set("kept")},
			delta:  CII{},
			wantId: "kept",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.base
			got.Merge(tt.delta)
			if !got.ContentId.IsDefined() || got.ContentId.Value() != tt.wantId {
				t.Errorf("contentId = %+v, want %q", got.ContentId, tt.wantId)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	prev := CII{ContentId: Set("a"), ContentIdStatus: Set("final")}
	cur := CII{ContentId: Set("b"), ContentIdStatus: Set("final")}

	d := cur.Diff(prev)
	if !d.ContentId.IsDefined() || d.ContentId.Value() != "b" {
		t.Errorf("diff.contentId = %+v, want defined b", d.ContentId)
	}
	if d.ContentIdStatus.IsDefined() {
		t.Errorf("diff.contentIdStatus = %+v, want undefined (unchanged)", d.ContentIdStatus)
	}
}

func TestDiffEmptyWhenNoChange(t *testing.T) {
	cur := CII{ContentId: Set("a")}
	d := cur.Diff(cur)
	if !d.Empty() {
		t.Errorf("diff of identical CII = %+v, want empty", d)
	}
}

func TestMarshalJSONOmitsUndefinedFields(t *testing.T) {
	c := CII{ContentId: Set("boingboing"), PresentationStatus: Set([]string{"okay"})}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("marshalled fields = %v, want exactly contentId and presentationStatus", m)
	}
	if m["presentationStatus"] != "okay" {
		t.Errorf("presentationStatus = %v, want space-joined string \"okay\"", m["presentationStatus"])
	}
}

func TestUnmarshalJSONSplitsPresentationStatus(t *testing.T) {
	var c CII
	err := json.Unmarshal([]byte(`{"contentId":"boingboing","contentIdStatus":"final","presentationStatus":"okay paused"}`), &c)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.ContentId.Value() != "boingboing" {
		t.Errorf("contentId = %q, want boingboing", c.ContentId.Value())
	}
	want := []string{"okay", "paused"}
	got := c.PresentationStatus.Value()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("presentationStatus = %v, want %v", got, want)
	}
}

func TestUnmarshalJSONPinningFieldsArePresent(t *testing.T) {
	var c CII
	if err := json.Unmarshal([]byte(`{"tsUrl":"xxxyyy","wcUrl":"3o87t3q8ot"}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !c.TsUrl.IsDefined() || c.TsUrl.Value() != "xxxyyy" {
		t.Errorf("tsUrl = %+v", c.TsUrl)
	}
	if !c.WcUrl.IsDefined() || c.WcUrl.Value() != "3o87t3q8ot" {
		t.Errorf("wcUrl = %+v", c.WcUrl)
	}
}
