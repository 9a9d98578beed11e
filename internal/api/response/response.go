package response

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/whisperd/internal/code"
)

// Write encodes resp with the HTTP status its code maps to.
func Write(w http.ResponseWriter, resp code.Response) {
	writeJSON(w, resp.Code.HTTPStatus(), resp)
}

// WriteStatus encodes resp with an explicit HTTP status, for transport
// conditions the catalog has no status for (rate limiting).
func WriteStatus(w http.ResponseWriter, status int, resp code.Response) {
	writeJSON(w, status, resp)
}

// Error writes the catalog response for c with a detail message.
func Error(w http.ResponseWriter, c code.Code, detail string) {
	content := map[string]any{}
	if detail != "" {
		content["detail"] = detail
	}
	Write(w, c.New(content))
}

// JSON writes v as-is with status 200, for endpoints outside the job
// catalog such as health and overview.
func JSON(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
