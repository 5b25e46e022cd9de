package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// DebugMode enables PrintDebug output.
var DebugMode = false

// QuietMode suppresses everything but warnings and errors.
var QuietMode = false

// projectPrefix starts every line printed by the Print* functions.
const projectPrefix = "[SUB]"

// Output streams. Tests swap these to capture console output.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

var (
	red      = color.New(color.FgRed).SprintFunc()
	green    = color.New(color.FgGreen).SprintFunc()
	yellow   = color.New(color.FgYellow).SprintFunc()
	blueBold = color.New(color.FgBlue, color.Bold).SprintFunc()
	magenta  = color.New(color.FgMagenta).SprintFunc()
	cyan     = color.New(color.FgCyan).SprintFunc()
	gray     = color.New(color.FgWhite).SprintFunc() // FgWhite = Gray in ANSI
	bold     = color.New(color.Bold).SprintFunc()
)

// Semantic styles for the data embedded in messages.

func StyleError(msg string) string   { return red(msg) }
func StyleSuccess(msg string) string { return green(msg) }
func StyleWarning(msg string) string { return yellow(msg) }
func StyleHint(msg string) string    { return cyan(msg) }
func StyleNote(msg string) string    { return magenta(msg) }
func StyleInfo(msg string) string    { return magenta(msg) }
func StyleDebug(msg string) string   { return gray(msg) }
func StyleTitle(title string) string { return bold(cyan(title)) }

// StyleCommand formats a shell command line.
func StyleCommand(cmd string) string { return gray(cmd) }

// StyleNumber formats counts and job ids.
func StyleNumber(num interface{}) string { return magenta(fmt.Sprintf("%v", num)) }

// StylePath formats file and directory paths.
func StylePath(path string) string { return blueBold(path) }

// StyleName formats subject ids and job names.
func StyleName(name string) string { return yellow(name) }

// level describes where a tagged line goes and when it is shown.
type level struct {
	tag    string // empty for plain messages
	style  func(string) string
	stderr bool
	quiet  bool // still shown in quiet mode
	debug  bool // only shown in debug mode
}

var (
	levelMessage = level{}
	levelSuccess = level{tag: "[PASS]", style: StyleSuccess}
	levelHint    = level{tag: "[HINT]", style: StyleHint}
	levelNote    = level{tag: "[NOTE]", style: StyleNote}
	levelWarning = level{tag: "[WARN]", style: StyleWarning, stderr: true, quiet: true}
	levelError   = level{tag: "[ERR] ", style: StyleError, stderr: true, quiet: true}
	levelDebug   = level{tag: "[DBG] ", style: StyleDebug, stderr: true, quiet: true, debug: true}
)

func logf(l level, format string, a ...interface{}) {
	if l.debug && !DebugMode {
		return
	}
	if QuietMode && !l.quiet {
		return
	}
	w := Stdout
	if l.stderr {
		w = Stderr
	}
	msg := fmt.Sprintf(format, a...)
	if l.tag == "" {
		fmt.Fprintf(w, "%s %s\n", projectPrefix, msg)
		return
	}
	fmt.Fprintf(w, "%s%s %s\n", projectPrefix, l.style(l.tag), msg)
}

// PrintMessage prints an untagged line: [SUB] Submitting fmriprep_sub-001
func PrintMessage(format string, a ...interface{}) { logf(levelMessage, format, a...) }

// PrintSuccess prints [SUB][PASS] ...
func PrintSuccess(format string, a ...interface{}) { logf(levelSuccess, format, a...) }

// PrintHint prints [SUB][HINT] ...
func PrintHint(format string, a ...interface{}) { logf(levelHint, format, a...) }

// PrintNote prints [SUB][NOTE] ...
func PrintNote(format string, a ...interface{}) { logf(levelNote, format, a...) }

// PrintWarning prints [SUB][WARN] ... to Stderr, also in quiet mode.
func PrintWarning(format string, a ...interface{}) { logf(levelWarning, format, a...) }

// PrintError prints [SUB][ERR] ... to Stderr, also in quiet mode.
func PrintError(format string, a ...interface{}) { logf(levelError, format, a...) }

// PrintDebug prints [SUB][DBG] ... to Stderr when DebugMode is set.
func PrintDebug(format string, a ...interface{}) { logf(levelDebug, format, a...) }

// PrintBlock prints multi-line text verbatim (rendered commands, job scripts).
func PrintBlock(text string) {
	if QuietMode {
		return
	}
	fmt.Fprintln(Stdout, text)
}
