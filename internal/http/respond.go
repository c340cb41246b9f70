package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/deploydeck/internal/remote"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeReadError maps log source failures. Unreachable sources are a bad
// gateway and carry a remediation hint.
func writeReadError(w http.ResponseWriter, err error) {
	var re *remote.ReadError
	if errors.As(err, &re) {
		status := http.StatusInternalServerError
		if re.Host != "" {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"error": re.Error(), "hint": re.Hint()})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
