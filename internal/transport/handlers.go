package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/model"
)

func handleList(svc *catalog.Service, resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		resp, err := svc.List(r.Context(), rctx, resource, r.URL.Query())
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func handleGet(svc *catalog.Service, resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		storeID, ok := storeIDParam(w, r)
		if !ok {
			return
		}

		item, err := svc.Get(r.Context(), rctx, resource, storeID)
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	}
}

// handleUpdateManagers serves PUT (replace true) and PATCH (replace false).
func handleUpdateManagers(svc *catalog.Service, replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		storeID, ok := storeIDParam(w, r)
		if !ok {
			return
		}

		var input model.ManagersUpdate
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteBadRequest(w, "request body too large")
				return
			}
			WriteBadRequest(w, "invalid JSON body")
			return
		}

		result, err := svc.UpdateManagers(r.Context(), rctx, storeID, input, replace,
			r.Header.Get("X-Idempotency-Key"))
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func storeIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "storeId"), 10, 64)
	if err != nil || id < 1 {
		WriteNotFound(w, "Not found.")
		return 0, false
	}
	return id, true
}
