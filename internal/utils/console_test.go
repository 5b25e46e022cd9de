package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func captureConsole(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = &out, &errOut, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = oldOut, oldErr, oldNoColor
		DebugMode, QuietMode = false, false
	})
	return &out, &errOut
}

func TestPrintLevels(t *testing.T) {
	out, errOut := captureConsole(t)

	PrintMessage("submitting %s", "fmriprep_sub-001")
	PrintWarning("no report for %s", "sub-002")
	PrintDebug("hidden")

	if got := out.String(); got != "[SUB] submitting fmriprep_sub-001\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); !strings.Contains(got, "[WARN] no report for sub-002") {
		t.Errorf("stderr = %q", got)
	}
	if strings.Contains(errOut.String(), "hidden") {
		t.Errorf("debug line printed without DebugMode")
	}

	DebugMode = true
	PrintDebug("visible")
	if !strings.Contains(errOut.String(), "[DBG]  visible") {
		t.Errorf("debug line missing: %q", errOut.String())
	}
}

func TestQuietMode(t *testing.T) {
	out, errOut := captureConsole(t)
	QuietMode = true

	PrintMessage("message")
	PrintSuccess("success")
	PrintNote("note")
	PrintBlock("block")
	PrintError("broken")

	if out.Len() != 0 {
		t.Errorf("quiet mode printed to stdout: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "broken") {
		t.Errorf("errors must survive quiet mode: %q", errOut.String())
	}
}
