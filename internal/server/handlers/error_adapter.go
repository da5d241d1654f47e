package handlers

import (
	"net/http"

	apperrors "github.com/clawpulse/syncrelay/internal/errors"
)

// ErrorResponder writes the error envelope for a failed request.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var httpErrorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder installs the server's error writer. Nil restores
// apperrors.RespondWithError.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// respondWithRelayError maps a relay outcome onto the relay's error
// taxonomy before writing it. The payload limit is reported on 413s.
func (h *SyncHandler) respondWithRelayError(w http.ResponseWriter, r *http.Request, err error) {
	respondWithError(w, r, apperrors.FromRelayError(r.Context(), err, h.MaxPayloadBytes))
}
