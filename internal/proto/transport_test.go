package proto

import (
	"bytes"
	"io"
	"testing"
)

func TestStdioTransportRoundTrip(t *testing.T) {
	var out bytes.Buffer
	in := bytes.NewBufferString(`{"type":"Analyse"}` + "\n" + `{"type":"Stop"}` + "\n")
	tr := NewStdioTransport(in, &out, nil)

	cmd, err := tr.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != CmdAnalyse {
		t.Fatalf("expected Analyse, got %q", cmd.Type)
	}

	cmd, err = tr.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != CmdStop {
		t.Fatalf("expected Stop, got %q", cmd.Type)
	}

	if _, err := tr.ReadCommand(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of input, got %v", err)
	}

	if err := tr.WriteEvent(Simple(EvtScanned)); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != `{"type":"Scanned"}`+"\n" {
		t.Fatalf("unexpected written event: %q", got)
	}
}

func TestStdioTransportToleratesUnknownCommandType(t *testing.T) {
	in := bytes.NewBufferString(`{"type":"SomethingFuture"}` + "\n")
	var out bytes.Buffer
	tr := NewStdioTransport(in, &out, nil)

	cmd, err := tr.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "SomethingFuture" {
		t.Fatalf("decode itself must not fail for an unrecognised type, got %q", cmd.Type)
	}
}
