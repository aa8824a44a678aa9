// Package logcontext carries ambient, request-scoped attributes on a
// context.Context: user, session, organization, intelligence level, and
// calling-app identity. Since values live on an immutable context.Context,
// re-installing them can never duplicate attributes the way a mutable
// thread-local register could. The telemetry package does not read these
// Fields: Handler.Enqueue takes a Record without a context, so they reach
// a record only as Attributes its producer sets explicitly.
package logcontext

import "context"

// IntelligenceLevel mirrors the five-tier confidentiality scale the
// original service used to gate what downstream dashboards may surface
// (public/prospect/customer/internal/confidential).
type IntelligenceLevel int

const (
	LevelPublic       IntelligenceLevel = 10
	LevelProspect     IntelligenceLevel = 30
	LevelCustomer     IntelligenceLevel = 50
	LevelInternal     IntelligenceLevel = 70
	LevelConfidential IntelligenceLevel = 90

	DefaultIntelligenceLevel = LevelCustomer
)

// Fields is the ambient attribute map installed on a context. It is not
// attached to log or telemetry records automatically.
type Fields struct {
	UserID            string
	SessionID         string
	OrgID             string
	IntelligenceLevel IntelligenceLevel
	AppName           string
	AppVersion        string
}

type contextKey struct{}

// Install attaches Fields to ctx, replacing any previously installed
// Fields. Because context values are immutable, calling Install twice
// never accumulates duplicate attributes — the newest Fields simply wins.
func Install(ctx context.Context, f Fields) context.Context {
	if f.IntelligenceLevel == 0 {
		f.IntelligenceLevel = DefaultIntelligenceLevel
	}
	return context.WithValue(ctx, contextKey{}, f)
}

// FromContext returns the Fields installed on ctx, or the zero value with
// DefaultIntelligenceLevel if none were installed.
func FromContext(ctx context.Context) Fields {
	f, ok := ctx.Value(contextKey{}).(Fields)
	if !ok {
		return Fields{IntelligenceLevel: DefaultIntelligenceLevel}
	}
	return f
}
