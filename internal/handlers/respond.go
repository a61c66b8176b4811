package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"llms-gateway/internal/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResponseStatus is the error body returned by every endpoint.
type ResponseStatus struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

type errorResponse struct {
	ResponseStatus ResponseStatus `json:"responseStatus"`
}

// substrings that mark an otherwise unclassified failure as an auth problem
var authHints = []string{"auth", "unauthorized", "invalid api key", "token", "signature"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{ResponseStatus: ResponseStatus{ErrorCode: code, Message: message}})
}

// errorStatus maps a failure to the HTTP status and body shown to the caller.
func errorStatus(err error) (int, ResponseStatus) {
	var e *llm.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case llm.KindUpstreamHTTP:
			status := e.Status
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			code := e.Reason
			if code == "" {
				code = fmt.Sprintf("HTTP %d", e.Status)
			}
			msg := e.Message
			if msg == "" {
				msg = llm.Truncate(e.Body, 200)
			}
			return status, ResponseStatus{ErrorCode: code, Message: msg}
		case llm.KindModelNotFound:
			return http.StatusNotFound, ResponseStatus{ErrorCode: "NotFound", Message: e.Error()}
		case llm.KindInvalidMediaReference, llm.KindUnresolvedMediaReference:
			return http.StatusBadRequest, ResponseStatus{ErrorCode: "BadRequest", Message: e.Error()}
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, hint := range authHints {
		if strings.Contains(lower, hint) {
			return http.StatusUnauthorized, ResponseStatus{ErrorCode: "Unauthorized", Message: msg}
		}
	}
	return http.StatusInternalServerError, ResponseStatus{ErrorCode: "ServerError", Message: msg}
}

func writeFailure(w http.ResponseWriter, err error) int {
	status, body := errorStatus(err)
	writeJSON(w, status, errorResponse{ResponseStatus: body})
	return status
}
