package context

import "context"

type ContextKey string

var (
	RequestIDKey  = ContextKey("X-Request-Id")
	TenantIDKey   = ContextKey("X-Tenant-Id")
	RunIDKey      = ContextKey("X-Run-Id")
	EndpointIDKey = ContextKey("X-Endpoint-Id")
	UnitIDKey     = ContextKey("X-Unit-Id")
	SinkIDKey     = ContextKey("X-Sink-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	return getString(ctx, TenantIDKey)
}

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// SetUnit stamps the endpoint, unit and sink a sync run operates on so log
// lines emitted deeper in the stack can be correlated with the run.
func SetUnit(ctx context.Context, endpointID, unitID, sinkID string) context.Context {
	ctx = context.WithValue(ctx, EndpointIDKey, endpointID)
	ctx = context.WithValue(ctx, UnitIDKey, unitID)
	return context.WithValue(ctx, SinkIDKey, sinkID)
}

func GetEndpointID(ctx context.Context) string {
	return getString(ctx, EndpointIDKey)
}

func GetUnitID(ctx context.Context) string {
	return getString(ctx, UnitIDKey)
}

func GetSinkID(ctx context.Context) string {
	return getString(ctx, SinkIDKey)
}

// LogFields returns the run-scoped values present on ctx, for use with
// logger.WithFields.
func LogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for key, name := range map[ContextKey]string{
		RequestIDKey:  "request_id",
		TenantIDKey:   "tenant_id",
		RunIDKey:      "run_id",
		EndpointIDKey: "endpoint_id",
		UnitIDKey:     "unit_id",
		SinkIDKey:     "sink_id",
	} {
		if v := getString(ctx, key); v != "" {
			fields[name] = v
		}
	}
	return fields
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
