package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func attrValue(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRecordError(t *testing.T) {
	inst, recorder, _ := newTestInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "exchange")
	RecordError(span, errors.New("authorization code expired"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if got := ended[0].Status().Code; got != codes.Error {
		t.Errorf("status = %v, want Error", got)
	}
	if got := ended[0].Status().Description; got != "authorization code expired" {
		t.Errorf("status description = %q", got)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder, _ := newTestInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "login")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestSpanAttributeHelpers(t *testing.T) {
	inst, recorder, _ := newTestInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "attrs")
	AddOAuthFlowAttributes(span, "client-1", "", "galaxy:full")
	AddStorageAttributes(span, "consume_transaction", "memory")
	AddGalaxyAttributes(span, "https://usegalaxy.org/", "authenticate", 200)
	AddHTTPAttributes(span, "POST", "/token", 200)
	AddSecurityAttributes(span, "203.0.113.7")
	AddGrantRejection(span, "refresh_token", "expired")
	AddClientAttributes(span, "client-1", "public")
	span.End()

	got := recorder.Ended()[0]

	want := map[string]attribute.Value{
		AttrClientID:         attribute.StringValue("client-1"),
		AttrScope:            attribute.StringValue("galaxy:full"),
		AttrStorageOperation: attribute.StringValue("consume_transaction"),
		AttrStorageType:      attribute.StringValue("memory"),
		AttrGalaxyOperation:  attribute.StringValue("authenticate"),
		AttrGalaxyStatus:     attribute.IntValue(200),
		AttrHTTPEndpoint:     attribute.StringValue("/token"),
		AttrClientIP:         attribute.StringValue("203.0.113.7"),
		AttrGrantType:        attribute.StringValue("refresh_token"),
		AttrRejectReason:     attribute.StringValue("expired"),
		AttrClientType:       attribute.StringValue("public"),
	}
	for key, value := range want {
		v, ok := attrValue(got, key)
		if !ok {
			t.Errorf("attribute %s missing", key)
			continue
		}
		if v != value {
			t.Errorf("attribute %s = %v, want %v", key, v.Emit(), value.Emit())
		}
	}

	if _, ok := attrValue(got, AttrUsername); ok {
		t.Error("empty username should not be recorded")
	}
}

func TestSpanNesting(t *testing.T) {
	inst, recorder, _ := newTestInstrumentation(t)

	ctx, parent := inst.Tracer("http").Start(context.Background(), "oauth.http.token")
	_, child := inst.Tracer("server").Start(ctx, "oauth.server.exchange_authorization_code")
	child.End()
	parent.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("child span should reference the parent span")
	}
}

func TestNilSafeHelpers(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	SetSpanAttributes(nil, attribute.String("k", "v"))
}
