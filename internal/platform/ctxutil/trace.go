package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is stored by pointer so handlers can fill BatchID for the request log.
type TraceData struct {
	TraceID   string
	RequestID string
	BatchID   string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// SetBatchID records the batch a request touched; a no-op without trace data.
func SetBatchID(ctx context.Context, batchID string) {
	if td := GetTraceData(ctx); td != nil {
		td.BatchID = batchID
	}
}

// Fields renders the non-empty ids as logger key/value pairs.
func (td *TraceData) Fields() []any {
	if td == nil {
		return nil
	}
	var out []any
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	if td.BatchID != "" {
		out = append(out, "batch_id", td.BatchID)
	}
	return out
}
