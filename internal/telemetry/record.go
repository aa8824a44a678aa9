// Package telemetry implements a bounded, batching log-record pipeline:
// a producer-facing Handler queues records, a single background worker
// converts and batches them, and a CollectorClient posts the batches to
// a remote OTLP-shaped collector endpoint.
package telemetry

import (
	"fmt"
	"strconv"
	"time"
)

// Severity mirrors the OTLP log severity number/text scale. Unmapped
// levels fall back to SeverityUnspecified.
type Severity int

const (
	SeverityUnspecified Severity = 0
	SeverityDebug       Severity = 5
	SeverityInfo        Severity = 9
	SeverityWarn        Severity = 13
	SeverityError       Severity = 17
	SeverityFatal       Severity = 21
)

// Text returns the OTLP severity text for s.
func (s Severity) Text() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNSPECIFIED"
	}
}

// Attribute is one typed key/value pair attached to a Record.
type Attribute struct {
	Key   string
	Value any
}

// Record is the producer-facing log event, converted internally to an
// OTLP-shaped logRecord before transmission.
type Record struct {
	Time       time.Time
	Severity   Severity
	Body       string
	Attributes []Attribute
	TraceID    string
	SpanID     string
}

// otlpAttrValue renders a single attribute's typed value field the way
// OTLP/HTTP JSON expects it: exactly one of stringValue/intValue/
// doubleValue/boolValue is populated.
type otlpAttrValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

type otlpKeyValue struct {
	Key   string        `json:"key"`
	Value otlpAttrValue `json:"value"`
}

type otlpLogRecord struct {
	TimeUnixNano   string         `json:"timeUnixNano"`
	SeverityNumber int            `json:"severityNumber"`
	SeverityText   string         `json:"severityText"`
	Body           otlpAttrValue  `json:"body"`
	Attributes     []otlpKeyValue `json:"attributes"`
	TraceID        string         `json:"traceId,omitempty"`
	SpanID         string         `json:"spanId,omitempty"`
}

type otlpScopeLogs struct {
	Scope      otlpScope       `json:"scope"`
	LogRecords []otlpLogRecord `json:"logRecords"`
}

type otlpScope struct {
	Name string `json:"name"`
}

type otlpResourceLogs struct {
	Resource  otlpResource    `json:"resource"`
	ScopeLogs []otlpScopeLogs `json:"scopeLogs"`
}

type otlpResource struct {
	Attributes []otlpKeyValue `json:"attributes"`
}

// Envelope is the top-level OTLP/HTTP logs export request payload.
type Envelope struct {
	ResourceLogs []otlpResourceLogs `json:"resourceLogs"`
}

func stringAttrValue(s string) otlpAttrValue {
	return otlpAttrValue{StringValue: &s}
}

func typedAttrValue(v any) otlpAttrValue {
	switch t := v.(type) {
	case bool:
		return otlpAttrValue{BoolValue: &t}
	case int:
		s := strconv.FormatInt(int64(t), 10)
		return otlpAttrValue{IntValue: &s}
	case int64:
		s := strconv.FormatInt(t, 10)
		return otlpAttrValue{IntValue: &s}
	case float64:
		return otlpAttrValue{DoubleValue: &t}
	case float32:
		f := float64(t)
		return otlpAttrValue{DoubleValue: &f}
	case string:
		return stringAttrValue(t)
	default:
		return stringAttrValue(fmt.Sprint(t))
	}
}

func toRecord(rec Record) otlpLogRecord {
	attrs := make([]otlpKeyValue, 0, len(rec.Attributes))
	for _, a := range rec.Attributes {
		attrs = append(attrs, otlpKeyValue{Key: a.Key, Value: typedAttrValue(a.Value)})
	}
	return otlpLogRecord{
		TimeUnixNano:   strconv.FormatInt(rec.Time.UnixNano(), 10),
		SeverityNumber: int(rec.Severity),
		SeverityText:   rec.Severity.Text(),
		Body:           stringAttrValue(rec.Body),
		Attributes:     attrs,
		TraceID:        rec.TraceID,
		SpanID:         rec.SpanID,
	}
}

func buildEnvelope(serviceName, serviceVersion, scopeName string, records []otlpLogRecord) Envelope {
	resourceAttrs := []otlpKeyValue{
		{Key: "service.name", Value: stringAttrValue(serviceName)},
	}
	if serviceVersion != "" {
		resourceAttrs = append(resourceAttrs, otlpKeyValue{Key: "service.version", Value: stringAttrValue(serviceVersion)})
	}
	return Envelope{
		ResourceLogs: []otlpResourceLogs{
			{
				Resource: otlpResource{Attributes: resourceAttrs},
				ScopeLogs: []otlpScopeLogs{
					{Scope: otlpScope{Name: scopeName}, LogRecords: records},
				},
			},
		},
	}
}
