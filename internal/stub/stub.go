// Package stub hosts in-process HTTP fakes of the collaborators generated
// records flow through: an OpenAI-style completion endpoint, a Prometheus
// query and exposition endpoint, and a collector ingestion endpoint. The
// stubs speak the real wire formats so integration suites can point actual
// clients at them without the backing services.
package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}
