package progress

import (
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

// LogSink writes progress events through the structured logger.
type LogSink struct{}

func (LogSink) Handle(ev Event) {
	entry := syslog.L.Info()
	if ev.Type == ChunkFailed {
		entry = syslog.L.Error(ev.Err)
	}
	entry.
		WithMessage(ev.Type.String()).
		WithFields(map[string]interface{}{
			"chunk":     ev.ChunkID,
			"scope":     ev.Scope,
			"phase":     ev.Phase,
			"bytes":     ev.Bytes,
			"files":     ev.Files,
			"remaining": ev.Remaining,
			"attempt":   ev.Attempt,
		}).
		Write()
}
