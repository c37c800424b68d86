package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("help failed: %v\n%s", err, output)
	}

	for _, want := range []string{"monitor", "status", "health", "gateway", "session", "memory", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("root help missing %q command", want)
		}
	}
}

func TestRootWithoutSubcommandErrors(t *testing.T) {
	if _, err := runRootCommandForTest(); err == nil {
		t.Fatal("bare invocation should require a subcommand")
	}
}

func TestMonitorHelpFlags(t *testing.T) {
	output, err := runRootCommandForTest("monitor", "--help")
	if err != nil {
		t.Fatalf("monitor help failed: %v", err)
	}

	for _, want := range []string{"--once", "--interval", "--threshold", "--gateway-timeout", "--json"} {
		if !strings.Contains(output, want) {
			t.Errorf("monitor help missing %q flag", want)
		}
	}
}

func TestSessionSwitchRequiresArg(t *testing.T) {
	if _, err := runRootCommandForTest("session", "switch"); err == nil {
		t.Fatal("session switch without id should error")
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := runRootCommandForTest("bogus"); err == nil {
		t.Fatal("unknown command should error")
	}
}
