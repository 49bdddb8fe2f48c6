package httpx

import (
	"errors"
	"net/http"

	"github.com/craftline-mfg/craftline/internal/shared"
)

// RespondError maps shared domain errors to HTTP problem responses. Typed
// domain errors carrying extra data are mapped by the module handlers before
// falling through to this default.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrStatusConflict):
		Problem(w, http.StatusConflict, "Status Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
