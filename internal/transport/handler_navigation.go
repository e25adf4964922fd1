package transport

import (
	"net/http"

	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/model"
)

func handleNavigation(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if model.SessionFrom(r.Context()) == nil {
			WriteError(w, r, model.NewUnauthorizedError("missing session"))
			return
		}
		WriteJSON(w, http.StatusOK, menu.GetMenu(CapabilitiesFrom(r.Context())))
	}
}
