package tenancy

import "context"

type ctxKey string

const (
	firmKey      ctxKey = "intake.firm_id"
	principalKey ctxKey = "intake.principal"
)

// Principal describes the authenticated caller attached by the auth gateway.
type Principal struct {
	Subject string
	FirmID  string
	Roles   []string
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithFirmID stores the firm id in context.
func WithFirmID(ctx context.Context, firmID string) context.Context {
	return context.WithValue(ctx, firmKey, firmID)
}

// FirmIDFromContext extracts the firm id if present.
func FirmIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(firmKey)
	if val == nil {
		return "", false
	}
	firmID, ok := val.(string)
	return firmID, ok && firmID != ""
}

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	if p.FirmID != "" {
		ctx = WithFirmID(ctx, p.FirmID)
	}
	return ctx
}

// PrincipalFromContext extracts the authenticated principal if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.Subject != ""
}
