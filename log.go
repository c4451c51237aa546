package bbflash

import (
	"context"
	"log/slog"
)

// LevelTrace logs every busy-poll wait.
const LevelTrace slog.Level = slog.LevelDebug - 1

func (c *Controller) logerr(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}

func (c *Controller) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Controller) trace(msg string, attrs ...slog.Attr) {
	c.logattrs(LevelTrace, msg, attrs...)
}

func (c *Controller) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log == nil || !c.log.Enabled(context.Background(), level) {
		return
	}
	c.log.LogAttrs(context.Background(), level, msg, attrs...)
}
