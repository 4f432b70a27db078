package logging

import (
	"go.uber.org/zap/zapcore"
)

// BufferCore is a zapcore.Core that appends every enabled entry to a Buffer.
type BufferCore struct {
	zapcore.LevelEnabler
	buffer *Buffer
	fields []zapcore.Field
}

func NewBufferCore(buffer *Buffer, enab zapcore.LevelEnabler) *BufferCore {
	return &BufferCore{LevelEnabler: enab, buffer: buffer}
}

func (c *BufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &BufferCore{LevelEnabler: c.LevelEnabler, buffer: c.buffer}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *BufferCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *BufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line := Line{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Logger:    entry.LoggerName,
		Message:   entry.Message,
	}

	if len(c.fields)+len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		line.Fields = enc.Fields
	}

	c.buffer.Append(line)
	return nil
}

func (c *BufferCore) Sync() error { return nil }
