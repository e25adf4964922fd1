package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/backoffice/internal/lookup"
	"github.com/pitabwire/backoffice/model"
)

// LookupDefinitions finds lookup definitions by ID.
type LookupDefinitions interface {
	GetLookup(id string) (model.LookupDefinition, bool)
}

// LookupResolver resolves the options of a lookup.
type LookupResolver interface {
	Get(ctx context.Context, s *model.Session, lookupID, query string) (lookup.Result, error)
}

func handleLookup(defs LookupDefinitions, lookups LookupResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := model.SessionFrom(r.Context())
		if s == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing session"))
			return
		}
		lookupID := chi.URLParam(r, "lookupId")

		def, ok := defs.GetLookup(lookupID)
		if !ok {
			WriteError(w, r, model.NewNotFoundError(fmt.Sprintf("Lookup %q not found", lookupID)))
			return
		}
		if !CapabilitiesFrom(r.Context()).HasAll(def.Capabilities...) {
			WriteError(w, r, model.NewForbiddenError("You do not have access to these options"))
			return
		}

		res, err := lookups.Get(r.Context(), s, lookupID, r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
