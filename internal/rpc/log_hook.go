package rpc

import (
	"time"

	"github.com/sirupsen/logrus"
)

// logHook is a logrus.Hook that fans every log entry out to connections
// that have set subscribed_logs. Registered once on the shared logger in
// New.
type logHook struct {
	s *Server
}

func (h *logHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *logHook) Fire(entry *logrus.Entry) error {
	ctx := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		ctx[k] = v
	}

	ev := LogEvent{
		Type:      frameLog,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Timestamp: entry.Time.UTC().Format(time.RFC3339),
	}
	if len(ctx) > 0 {
		ev.Context = ctx
	}

	h.s.broadcastLog(ev)
	return nil
}
