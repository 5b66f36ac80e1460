// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON; development mode writes colored console
// output at debug level. Components take a child logger with Named, and
// per-conversation work is tagged with Conversation.
//
// Writer adapts a logger to io.Writer so an analysis server's stderr lands
// in the log one line per entry:
//
//	cmd.Stderr = log.Writer(zapcore.WarnLevel, "analysis server stderr")
package logging
