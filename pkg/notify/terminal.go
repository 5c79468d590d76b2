package notify

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgCyan)
)

// TerminalNotifier prints events as colored lines
type TerminalNotifier struct {
	Out io.Writer
}

// Notify prints e
func (t TerminalNotifier) Notify(e Event) {
	switch e.Kind {
	case KindSuccess:
		successColor.Fprintf(t.Out, "✓ %s\n", e.Message)
	case KindError:
		if e.Err != nil {
			errorColor.Fprintf(t.Out, "✗ %s (%v)\n", e.Message, e.Err)
		} else {
			errorColor.Fprintf(t.Out, "✗ %s\n", e.Message)
		}
	default:
		infoColor.Fprintf(t.Out, "%s\n", e.Message)
	}
}

// LogNotifier writes events to the structured logger
type LogNotifier struct{}

// Notify logs e at a level matching its kind
func (LogNotifier) Notify(e Event) {
	switch e.Kind {
	case KindError:
		logger.Error(e.Message, "action_id", e.ActionID, "error", fmt.Sprint(e.Err))
	case KindSuccess:
		logger.Info(e.Message, "action_id", e.ActionID)
	default:
		logger.Debug(e.Message, "action_id", e.ActionID)
	}
}
