package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
	// ErrorCodeHeader carries the Code of an error response.
	ErrorCodeHeader = "X-App-Error-Code"
)

// RespondJSON writes data, or err with its code, as JSON.
func RespondJSON(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	if err != nil {
		e := AsError(err)
		w.Header().Set(ErrorCodeHeader, string(e.Code))
		w.WriteHeader(e.Code.HTTPStatus())
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// RespondCBOR writes data, or err with its code, as CBOR.
func RespondCBOR(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Content-Type", ContentTypeCBOR)
	status := http.StatusOK
	if err != nil {
		e := AsError(err)
		w.Header().Set(ErrorCodeHeader, string(e.Code))
		status = e.Code.HTTPStatus()
		data = e
	}
	body, encErr := cbor.Marshal(data)
	if encErr != nil {
		http.Error(w, encErr.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Recover turns a panic in handler into a 500 response, logging it.
func Recover(logger *zap.Logger, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic handling request",
					zap.Any("error", rec),
					zap.String("remote address", r.RemoteAddr),
					zap.String("method", r.Method),
					zap.String("request uri", r.RequestURI),
				)
				buf := bytes.NewBuffer(nil)
				_ = json.NewEncoder(buf).Encode(&Error{Code: CodeInternal, Message: "internal error"})
				w.Header().Set("Content-Type", ContentTypeJSON)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = buf.WriteTo(w)
			}
		}()
		handler.ServeHTTP(w, r)
	})
}
