package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

// Session fields and the claim read for each when claim_paths leaves it out.
var defaultClaimPaths = map[string]string{
	"subject_id": "sub",
	"email":      "email",
	"name":       "name",
	"roles":      "roles",
}

// BuildSession turns verified claims into the model.Session every screen is
// owned by. claimPaths maps session fields to dotted claim paths.
//
// The session ID is the token's jti, or a digest of the token when it has
// none, so a refreshed token starts with fresh screens.
func BuildSession(claimPaths map[string]string) func(http.Handler) http.Handler {
	paths := make(map[string]string, len(defaultClaimPaths))
	for field, def := range defaultClaimPaths {
		paths[field] = def
		if p := claimPaths[field]; p != "" {
			paths[field] = p
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFrom(ctx)
			token := tokenFrom(ctx)

			s := &model.Session{
				ID:            extractClaimString(claims, "jti"),
				SubjectID:     extractClaimString(claims, paths["subject_id"]),
				Email:         extractClaimString(claims, paths["email"]),
				Name:          extractClaimString(claims, paths["name"]),
				Roles:         extractClaimStringSlice(claims, paths["roles"]),
				Claims:        claims,
				Token:         token,
				CorrelationID: CorrelationIDFrom(ctx),
				Locale:        r.Header.Get("Accept-Language"),
			}
			if s.ID == "" && token != "" {
				sum := sha256.Sum256([]byte(token))
				s.ID = hex.EncodeToString(sum[:16])
			}
			if err := s.Validate(); err != nil {
				WriteError(w, r, model.NewUnauthorizedError("Token does not identify a subject"))
				return
			}
			next.ServeHTTP(w, r.WithContext(model.WithSession(ctx, s)))
		})
	}
}

// ResolveCapabilities resolves the session's capabilities once per request.
// A failed resolution leaves the set empty, so guarded routes answer 403.
func ResolveCapabilities(resolver model.CapabilityResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := model.SessionFrom(r.Context())
			if resolver == nil || s == nil {
				next.ServeHTTP(w, r)
				return
			}
			caps, err := resolver.Resolve(s)
			if err != nil {
				logger.Warn("capability resolution failed",
					append(observability.SessionFields(s), zap.Error(err))...)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCapabilities(r.Context(), caps)))
		})
	}
}
