package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/quanta-social/feedengine/pkg/entities"
)

var validate = validator.New()

type ErrResp struct {
	Error bool   `json:"error"`
	Type  string `json:"type"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		returnErr(w, http.StatusBadRequest, ErrBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		returnErr(w, http.StatusBadRequest, ErrBadRequest)
		return false
	}
	return true
}

func returnData(w http.ResponseWriter, code int, data interface{}) {
	marshaled, err := json.Marshal(data)
	if err != nil {
		returnErr(w, http.StatusInternalServerError, ErrInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(marshaled)
}

func returnErr(w http.ResponseWriter, code int, errType error) {
	marshaled, _ := json.Marshal(ErrResp{Error: true, Type: errType.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(marshaled)
}

// returnEngineErr maps the engine's error taxonomy onto HTTP codes so
// the UI can render inline retry affordances instead of guessing.
func returnEngineErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entities.ErrAuthRequired):
		returnErr(w, http.StatusUnauthorized, ErrAuth)
	case errors.Is(err, entities.ErrNotFound):
		returnErr(w, http.StatusNotFound, ErrNotFound)
	case errors.Is(err, entities.ErrConflict):
		returnErr(w, http.StatusConflict, ErrConflict)
	case errors.Is(err, entities.ErrResourceExhausted):
		returnErr(w, http.StatusTooManyRequests, ErrExhausted)
	case errors.Is(err, entities.ErrNetwork):
		returnErr(w, http.StatusBadGateway, ErrUpstream)
	default:
		returnErr(w, http.StatusInternalServerError, ErrInternal)
	}
}
