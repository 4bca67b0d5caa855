package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"fusionswap/native/bank"
	nativecommon "fusionswap/native/common"
	"fusionswap/native/fusion"
	"fusionswap/native/proof"
	"fusionswap/native/registry"
)

type problem struct {
	Code      string `json:"code"`
	Class     string `json:"class,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type problemEnvelope struct {
	Error problem `json:"error"`
}

type collaboratorError struct {
	err    error
	code   string
	status int
}

// Errors raised outside the engine keep their own codes.
var collaboratorErrors = []collaboratorError{
	{registry.ErrNotRegistered, "NotRegistered", http.StatusNotFound},
	{registry.ErrAlreadyRegistered, "AlreadyRegistered", http.StatusConflict},
	{registry.ErrInsufficientStake, "InsufficientStake", http.StatusBadRequest},
	{registry.ErrSlashed, "ResolverSlashed", http.StatusForbidden},
	{proof.ErrUntrustedRelayer, "UntrustedRelayer", http.StatusForbidden},
	{proof.ErrRootConflict, "RootConflict", http.StatusConflict},
	{proof.ErrUnknownRoot, "UnknownRoot", http.StatusNotFound},
	{bank.ErrInsufficientBalance, "InsufficientBalance", http.StatusBadRequest},
	{nativecommon.ErrQuotaRequestsExceeded, "QuotaExceeded", http.StatusTooManyRequests},
	{nativecommon.ErrQuotaValueCapExceeded, "QuotaExceeded", http.StatusTooManyRequests},
	{nativecommon.ErrQuotaCounterOverflow, "QuotaExceeded", http.StatusTooManyRequests},
}

// statusFor maps an error onto its HTTP status and wire code. Engine errors
// go through fusion.Classify so every class has one status.
func statusFor(err error) (int, string, fusion.ErrorClass) {
	class := fusion.Classify(err)
	code := fusion.Code(err)
	if class == fusion.ClassInternal {
		for _, entry := range collaboratorErrors {
			if errors.Is(err, entry.err) {
				return entry.status, entry.code, ""
			}
		}
	}
	switch {
	case errors.Is(err, fusion.ErrOrderNotFound):
		return http.StatusNotFound, code, class
	case errors.Is(err, fusion.ErrContractPaused), errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, code, class
	}
	switch class {
	case fusion.ClassValidation:
		return http.StatusBadRequest, code, class
	case fusion.ClassAuthorization:
		return http.StatusForbidden, code, class
	case fusion.ClassPrecondition:
		return http.StatusConflict, code, class
	case fusion.ClassIO:
		return http.StatusBadGateway, code, class
	default:
		return http.StatusInternalServerError, code, class
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, class := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"requestId", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"code", code,
			"error", err)
		if class == fusion.ClassInternal || class == fusion.ClassFatal {
			message = http.StatusText(status)
		}
	}
	writeJSON(w, status, problemEnvelope{Error: problem{
		Code:      code,
		Class:     string(class),
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	}})
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, problemEnvelope{Error: problem{
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
