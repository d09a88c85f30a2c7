package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
)

// ErrorBody - 에러 응답 형식
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteJSON - JSON 응답
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.For("http")
		log.Warn().Err(err).Msg("⚠️ Failed to encode response")
	}
}

// WriteError - 도메인 에러를 HTTP 상태로 변환해 응답 (5xx 는 request id 와 함께 로그)
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log := logger.For("http")
		log.Error().
			Err(err).
			Str("request_id", logger.RequestIDFromContext(r.Context())).
			Msgf("❌ %d %s %s", status, r.Method, r.URL.Path)
	}
	WriteJSON(w, status, ErrorBody{Success: false, Error: err.Error()})
}

// WriteMessage - 상태 코드 + 메시지만 있는 에러 응답
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Success: false, Error: message})
}

// StatusFor - 에러별 HTTP 상태
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrCancelled), errors.Is(err, model.ErrAlreadyTerminal):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrLocked), errors.Is(err, model.ErrLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrAlreadyInProgress), errors.Is(err, model.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON - 요청 body 디코딩 (실패 시 ErrValidation)
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 32<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(model.ErrValidation, err)
	}
	return nil
}
