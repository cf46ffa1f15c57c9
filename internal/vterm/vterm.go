// Package vterm maintains the emulated screen state for a single session
// (spec.md §4.2 "Virtual Terminal"). It wraps github.com/vito/midterm, the
// same library both h2 forks in this retrieval pack use for exactly this
// purpose, and answers OSC 10/11 foreground/background color queries using
// github.com/muesli/termenv, matching the h2 forks' RespondOSCColors.
package vterm

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"github.com/vito/midterm"
)

const (
	oscForegroundQuery = "\x1b]10;?\a"
	oscBackgroundQuery = "\x1b]11;?\a"
)

// VirtualTerminal is the live screen state for one session's PTY output,
// plus a capped scrollback of lines that have rolled off the top.
type VirtualTerminal struct {
	mu            sync.Mutex
	term          *midterm.Terminal
	rows, cols    int
	scrollback    []string
	scrollbackMax int
}

// New returns a VirtualTerminal sized rows x cols, retaining at most
// scrollbackMax lines of history that scroll off the top of the screen.
func New(rows, cols, scrollbackMax int) *VirtualTerminal {
	vt := &VirtualTerminal{rows: rows, cols: cols, scrollbackMax: scrollbackMax}
	term := midterm.NewTerminal(rows, cols)
	term.OnScrollback = func(line midterm.Line) {
		vt.mu.Lock()
		vt.scrollback = append(vt.scrollback, line.String())
		if vt.scrollbackMax > 0 && len(vt.scrollback) > vt.scrollbackMax {
			vt.scrollback = vt.scrollback[len(vt.scrollback)-vt.scrollbackMax:]
		}
		vt.mu.Unlock()
	}
	vt.term = term
	return vt
}

// Write feeds raw child output through the terminal emulator.
func (vt *VirtualTerminal) Write(p []byte) (int, error) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.term.Write(p)
}

// Resize changes the emulated screen's dimensions.
func (vt *VirtualTerminal) Resize(rows, cols int) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.term.Resize(rows, cols)
	vt.rows, vt.cols = rows, cols
}

// Cursor returns the current cursor row and column.
func (vt *VirtualTerminal) Cursor() (row, col int) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.term.Cursor.Y, vt.term.Cursor.X
}

// Content returns a snapshot of the visible screen grid.
func (vt *VirtualTerminal) Content() [][]rune {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	out := make([][]rune, len(vt.term.Content))
	for i, row := range vt.term.Content {
		out[i] = append([]rune(nil), row...)
	}
	return out
}

// Scrollback returns a snapshot of retained history lines, oldest first.
func (vt *VirtualTerminal) Scrollback() []string {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	out := make([]string, len(vt.scrollback))
	copy(out, vt.scrollback)
	return out
}

// RespondOSCColors scans raw child output for OSC 10/11 color queries and,
// for each one found, invokes writeBack with the themed color response the
// child expects in place of a real terminal's answer.
func (vt *VirtualTerminal) RespondOSCColors(data []byte, theme string, writeBack func([]byte) error) error {
	fg, bg := themeColors(theme)
	if bytes.Contains(data, []byte(oscForegroundQuery)) {
		if err := writeBack(oscColorReply(10, fg)); err != nil {
			return err
		}
	}
	if bytes.Contains(data, []byte(oscBackgroundQuery)) {
		if err := writeBack(oscColorReply(11, bg)); err != nil {
			return err
		}
	}
	return nil
}

func themeColors(theme string) (fg, bg termenv.RGBColor) {
	if theme == "light" {
		return termenv.RGBColor("#1a1a1a"), termenv.RGBColor("#fafafa")
	}
	return termenv.RGBColor("#e6e6e6"), termenv.RGBColor("#1a1a1a")
}

// oscColorReply builds an xterm-style "rgb:RRRR/GGGG/BBBB" OSC response,
// doubling each hex byte the way real terminals report 16-bit channels.
func oscColorReply(code int, c termenv.RGBColor) []byte {
	hex := strings.TrimPrefix(string(c), "#")
	if len(hex) != 6 {
		hex = "000000"
	}
	r, g, b := hex[0:2], hex[2:4], hex[4:6]
	return []byte(fmt.Sprintf("\x1b]%d;rgb:%s%s/%s%s/%s%s\a", code, r, r, g, g, b, b))
}
