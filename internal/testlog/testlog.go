// Package testlog provides a no-op logging.Logger implementation shared
// by every package's tests.
package testlog

// Logger implements github.com/ausocean/utils/logging.Logger: it discards
// output and records each message text in Messages for assertions.
type Logger struct {
	Messages []string
}

// New returns a ready-to-use no-op Logger.
func New() *Logger { return &Logger{} }

func (l *Logger) Log(level int8, msg string, args ...interface{}) { l.Messages = append(l.Messages, msg) }
func (l *Logger) SetLevel(level int8)                             {}
func (l *Logger) Debug(msg string, args ...interface{})           { l.Messages = append(l.Messages, msg) }
func (l *Logger) Info(msg string, args ...interface{})            { l.Messages = append(l.Messages, msg) }
func (l *Logger) Warning(msg string, args ...interface{})         { l.Messages = append(l.Messages, msg) }
func (l *Logger) Error(msg string, args ...interface{})           { l.Messages = append(l.Messages, msg) }
func (l *Logger) Fatal(msg string, args ...interface{})           { l.Messages = append(l.Messages, msg) }
