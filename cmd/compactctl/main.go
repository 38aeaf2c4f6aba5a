// Command compactctl is a minimal line-mode front-end: it launches
// compactord as a subprocess wired over the stdio transport and drives it
// through a handful of raw-mode prompts (SPEC_FULL.md §12 expansion). It
// stands in for the "thin front-end" spec.md assumes sits on top of the
// engine, kept intentionally small since the real front-end is out of
// scope here.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/term"

	"github.com/halvarsen/compactd/internal/proto"
)

// client is the front-end's own half of the line-delimited JSON channel —
// the mirror image of proto.StdioTransport, which is written for the
// engine side (read Command, write Event).
type client struct {
	enc *json.Encoder
	sc  *bufio.Scanner
}

func newClient(w io.Writer, r io.Reader) *client {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &client{enc: json.NewEncoder(w), sc: sc}
}

func (c *client) send(cmd proto.Command) error {
	return c.enc.Encode(cmd)
}

func (c *client) next() (proto.Event, bool) {
	if !c.sc.Scan() {
		return proto.Event{}, false
	}
	var ev proto.Event
	if err := json.Unmarshal(c.sc.Bytes(), &ev); err != nil {
		return proto.Event{}, false
	}
	return ev, true
}

func main() {
	binPath := flag.String("compactord", "compactord", "path to the compactord binary")
	flag.Parse()

	cmd := exec.Command(*binPath, "-stdio")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	must(err)
	stdout, err := cmd.StdoutPipe()
	must(err)
	must(cmd.Start())

	c := newClient(stdin, stdout)
	events := make(chan proto.Event, 16)
	go func() {
		defer close(events)
		for {
			ev, ok := c.next()
			if !ok {
				return
			}
			events <- ev
		}
	}()

	fmt.Println("compactctl connected to", *binPath)
	repl(c, events)

	stdin.Close()
	_ = cmd.Wait()
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "compactctl:", err)
		os.Exit(1)
	}
}

// repl drives a tiny interactive loop: a raw-mode prompt for the folder
// path and job choice, then prints every event as it arrives until the
// engine reports Scanned or Stopped.
func repl(c *client, events <-chan proto.Event) {
	root := promptLine("folder path> ")
	if root == "" {
		return
	}
	if err := c.send(proto.Command{Type: proto.CmdChooseFolder, Path: root}); err != nil {
		fmt.Fprintln(os.Stderr, "compactctl:", err)
		return
	}

	kind := promptLine("job [analyse/compress/decompress]> ")
	var cmdType string
	switch kind {
	case "compress":
		cmdType = proto.CmdCompress
	case "decompress":
		cmdType = proto.CmdDecompress
	default:
		cmdType = proto.CmdAnalyse
	}
	if err := c.send(proto.Command{Type: cmdType, Path: root}); err != nil {
		fmt.Fprintln(os.Stderr, "compactctl:", err)
		return
	}

	for ev := range events {
		printEvent(ev)
		if ev.Type == proto.EvtScanned || ev.Type == proto.EvtStopped {
			return
		}
	}
}

func printEvent(ev proto.Event) {
	switch ev.Type {
	case proto.EvtFolderSummary:
		fmt.Printf("[summary] %+v\n", ev.Info)
	case proto.EvtStatus:
		if ev.Error != "" {
			fmt.Printf("[status] %s: %s (%s)\n", ev.Status, ev.Error, ev.Path)
		} else {
			fmt.Printf("[status] %s\n", ev.Status)
		}
	default:
		fmt.Printf("[%s]\n", ev.Type)
	}
}

// promptLine reads one line from stdin in raw mode when stdin is a
// terminal (so a real terminal session gets clean editing), falling back
// to a plain buffered read when it's redirected (e.g. under CI).
func promptLine(prompt string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Print(prompt)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		return trimNewline(line)
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Print(prompt)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		return trimNewline(line)
	}
	defer term.Restore(fd, old)

	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(rw, prompt)
	line, _ := t.ReadLine()
	return line
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
