package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/zfogg/sidechain/clientsync/pkg/upload"
	"golang.org/x/term"
)

// progressLine renders upload progress. On a terminal it redraws one line;
// otherwise it prints state changes only.
type progressLine struct {
	out   io.Writer
	tty   bool
	width int
	last  upload.State
}

func newProgressLine(out io.Writer) *progressLine {
	p := &progressLine{out: out, width: 30}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 40 {
			p.width = min(w-20, 50)
		}
	}
	return p
}

func (p *progressLine) update(t upload.Task) {
	if p.tty {
		filled := p.width * t.Progress / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)
		fmt.Fprintf(p.out, "\r%s %3d%% %s", bar, t.Progress, label(t))
		if t.State == upload.StateComplete || t.State == upload.StateError {
			fmt.Fprintln(p.out)
		}
		return
	}

	if t.State != p.last {
		fmt.Fprintf(p.out, "%s %d%%\n", label(t), t.Progress)
	}
	p.last = t.State
}

func label(t upload.Task) string {
	switch t.State {
	case upload.StateComplete:
		return color.GreenString("complete")
	case upload.StateError:
		return color.RedString("error: %s", t.ErrorMessage)
	case upload.StateInProgress:
		if t.RetryCount > 0 {
			return color.YellowString("uploading (retry %d)", t.RetryCount)
		}
		return color.CyanString("uploading")
	default:
		return string(t.State)
	}
}
