package telemetry

import (
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// exportRedactedKeys are field keys never shipped to the log backend.
var exportRedactedKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"signature":     {},
	"authorization": {},
	"code":          {},
}

// ZapCore returns a core that forwards entries at or above level to the OTLP
// log exporter with credential-bearing fields removed. Nop when log export
// is off.
func (p *Providers) ZapCore(serviceName string, level zapcore.Level) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	return newExportCore(otelzap.NewCore(serviceName, otelzap.WithLoggerProvider(p.logs)), level)
}

func newExportCore(inner zapcore.Core, level zapcore.Level) zapcore.Core {
	return &exportCore{inner: inner, minLevel: level}
}

type exportCore struct {
	inner    zapcore.Core
	minLevel zapcore.Level
}

func (c *exportCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.minLevel && c.inner.Enabled(lvl)
}

func (c *exportCore) With(fields []zapcore.Field) zapcore.Core {
	return &exportCore{inner: c.inner.With(redactFields(fields)), minLevel: c.minLevel}
}

func (c *exportCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *exportCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.inner.Write(entry, redactFields(fields))
}

func (c *exportCore) Sync() error { return c.inner.Sync() }

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := fields[:0:0]
	for _, f := range fields {
		if _, drop := exportRedactedKeys[strings.ToLower(f.Key)]; drop {
			continue
		}
		out = append(out, f)
	}
	return out
}
