package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/talchain/olumi-cee/cee"
)

// writeCeeError renders err's status/body per the closed error taxonomy
// (§7), setting retry-after when the code is CEE_RATE_LIMIT and a
// retry_after_seconds detail is present.
func writeCeeError(w http.ResponseWriter, err *cee.Error) {
	if err.Code == cee.CodeRateLimit {
		if secs, ok := err.Details["retry_after_seconds"]; ok {
			if s, ok := secs.(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(s))
			}
		}
	}
	writeJSON(w, err.Status(), err)
}

// writeAuthError renders a cee.Error-shaped body with a status outside
// the closed taxonomy (401 invalid signature/key, 426 expired resume
// stream), per §4.9's token-validity table and §6's auth column. These
// are transport/protocol failures, not one of the eight business-logic
// codes in §7's table.
func writeAuthError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]interface{}) {
	body := cee.New(cee.Code(code), message, cee.Trace{RequestID: requestID})
	body.Details = details
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

