package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its stable code. Causes are logged, not sent.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	if kind == apperr.KindInternal || kind == apperr.KindUnavailable {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err),
		)
	}
	if kind == apperr.KindUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    apperr.CodeOf(err),
		Message: apperr.PublicMessage(err),
	}})
}

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.ErrMissingField
		case errors.As(err, &tooLarge):
			return apperr.Wrap(apperr.KindValidation, apperr.CodeMalformedRequest, "request body is too large", err)
		}
		return apperr.Wrap(apperr.KindValidation, apperr.CodeMalformedRequest, apperr.ErrMalformedRequest.Message, err)
	}
	return nil
}
