package wire_test

import (
	"bytes"
	"testing"

	"github.com/chazu/sqdis/pipeline"
	"github.com/chazu/sqdis/wire"
)

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		Name: "prog.cnut",
		Functions: []pipeline.FunctionSummary{
			{Name: "main", Source: "prog.nut", Instructions: 4, Blocks: 2, FirstLine: 1, LastLine: 3, Parameters: 1},
		},
		Disassembly: "function main(this) {\n}\n",
		Decompiled:  "decompile failed: boom",
		Graph:       "digraph {}",
		Errors:      []pipeline.StageError{{Stage: pipeline.StageDecompile, Message: "boom"}},
	}
}

func TestReportRoundTrip(t *testing.T) {
	r := sampleReport()
	data, err := wire.MarshalReport(r)
	if err != nil {
		t.Fatalf("MarshalReport: %v", err)
	}
	got, err := wire.UnmarshalReport(data)
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if got.Name != r.Name || got.Decompiled != r.Decompiled || got.Graph != r.Graph {
		t.Errorf("got %+v", got)
	}
	if len(got.Functions) != 1 || got.Functions[0] != r.Functions[0] {
		t.Errorf("functions = %+v", got.Functions)
	}
	if len(got.Errors) != 1 || got.Errors[0] != r.Errors[0] {
		t.Errorf("errors = %+v", got.Errors)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := wire.MarshalReport(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	b, err := wire.MarshalReport(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encodings differ")
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := wire.UnmarshalReport([]byte{0xFF, 0x00}); err == nil {
		t.Error("expected error")
	}
}

func TestCodecMessages(t *testing.T) {
	var c wire.Codec
	if c.Name() != "cbor" {
		t.Errorf("Name = %q", c.Name())
	}
	in := &wire.AnalyzeRequest{Name: "a", Data: []byte{1, 2, 3}, Options: pipeline.Options{LineNumbers: true}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out wire.AnalyzeRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "a" || !bytes.Equal(out.Data, in.Data) || !out.Options.LineNumbers {
		t.Errorf("got %+v", out)
	}
}
