package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/service"
)

type errorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// statusFor maps an error to its HTTP status by kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMonitorRunning), errors.Is(err, service.ErrMonitorNotRunning):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch fetcher.KindOf(err) {
	case fetcher.KindValidation:
		return http.StatusBadRequest
	case fetcher.KindNotFound:
		return http.StatusNotFound
	case fetcher.KindRateLimited:
		return http.StatusTooManyRequests
	case fetcher.KindTimeout:
		return http.StatusGatewayTimeout
	case fetcher.KindNetwork, fetcher.KindUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func suggestionFor(err error) string {
	switch fetcher.KindOf(err) {
	case fetcher.KindNotFound:
		return "Check the token id. Use the CoinGecko id (e.g. \"bitcoin\") or a known symbol."
	case fetcher.KindRateLimited:
		return "Upstream rate limit reached. Retry in a minute or configure an API key."
	case fetcher.KindTimeout:
		return "The upstream provider timed out. Retry shortly."
	case fetcher.KindNetwork, fetcher.KindUnavailable:
		return "An upstream provider is unreachable. Retry later."
	case fetcher.KindValidation:
		return "Fix the request parameters and retry."
	}
	return "Retry later. Contact support if the problem persists."
}

func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:      title,
		Details:    err.Error(),
		Suggestion: suggestionFor(err),
		RequestID:  RequestID(r.Context()),
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, RequestID: RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
