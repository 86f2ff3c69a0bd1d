package sdk

import (
	"context"
	"log/slog"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

// tapHandler installs a copy-on-emit sink into the host's slog handler
// chain without replacing it (spec §9 "Monkey-patched logging tap"):
// every record is still forwarded, unmodified, to whatever handler was
// installed before Init ran. tapHandler itself is the "private marker"
// Init looks for to avoid stacking a second tap on a repeat call.
type tapHandler struct {
	wrapped slog.Handler
	push    func(model.LogRecord)
	level   slog.Level
	attrs   []slog.Attr
	group   string
}

func installTap(push func(model.LogRecord), level slog.Level) slog.Handler {
	current := slog.Default().Handler()
	if prev, ok := current.(*tapHandler); ok {
		current = prev.wrapped // unwrap our own prior tap; keep its underlying sink
	}
	tap := &tapHandler{wrapped: current, push: push, level: level}
	slog.SetDefault(slog.New(tap))
	return current
}

func (h *tapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.wrapped.Enabled(ctx, level)
}

func (h *tapHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.wrapped.Enabled(ctx, r.Level) {
		if err := h.wrapped.Handle(ctx, r); err != nil {
			return err
		}
	}

	if r.Level < h.level {
		return nil
	}

	attrs := make(map[string]model.AttrValue, len(h.attrs)+r.NumAttrs())
	prefix := h.group
	for _, a := range h.attrs {
		addSlogAttr(attrs, prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addSlogAttr(attrs, prefix, a)
		return true
	})
	if len(attrs) > model.MaxAttributes {
		truncated := make(map[string]model.AttrValue, model.MaxAttributes)
		i := 0
		for k, v := range attrs {
			if i >= model.MaxAttributes {
				break
			}
			truncated[k] = v
			i++
		}
		attrs = truncated
	}

	h.push(model.LogRecord{
		Timestamp:  r.Time,
		Level:      slogLevelToModel(r.Level),
		Message:    r.Message,
		Attributes: attrs,
	})
	return nil
}

func (h *tapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.wrapped = h.wrapped.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *tapHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.wrapped = h.wrapped.WithGroup(name)
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group = clone.group + "." + name
	}
	return &clone
}

func addSlogAttr(dst map[string]model.AttrValue, prefix string, a slog.Attr) {
	av, ok := slogValueToAttr(a.Value)
	if !ok {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	dst[key] = av
}

// slogValueToAttr converts a scalar slog.Value to an AttrValue. It
// returns ok=false for slog.KindGroup and any other non-scalar kind —
// nested containers are rejected at the SDK boundary (§9), not
// flattened to a string and smuggled through.
func slogValueToAttr(v slog.Value) (model.AttrValue, bool) {
	switch v.Kind() {
	case slog.KindString:
		return model.AttrValue{Kind: model.AttrString, Str: v.String()}, true
	case slog.KindInt64:
		return model.AttrValue{Kind: model.AttrInt, Int: v.Int64()}, true
	case slog.KindUint64:
		return model.AttrValue{Kind: model.AttrInt, Int: int64(v.Uint64())}, true
	case slog.KindFloat64:
		return model.AttrValue{Kind: model.AttrFloat, Flt: v.Float64()}, true
	case slog.KindBool:
		return model.AttrValue{Kind: model.AttrBool, Bool: v.Bool()}, true
	case slog.KindTime:
		return model.AttrValue{Kind: model.AttrString, Str: v.Time().Format(time.RFC3339Nano)}, true
	case slog.KindDuration:
		return model.AttrValue{Kind: model.AttrString, Str: v.Duration().String()}, true
	default:
		return model.AttrValue{}, false
	}
}

func slogLevelToModel(l slog.Level) model.Level {
	switch {
	case l < slog.LevelDebug:
		return model.LevelTrace
	case l < slog.LevelInfo:
		return model.LevelDebug
	case l < slog.LevelWarn:
		return model.LevelInfo
	case l < slog.LevelError:
		return model.LevelWarning
	case l < slog.LevelError+4:
		return model.LevelError
	default:
		return model.LevelCritical
	}
}
