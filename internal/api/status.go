package api

import "net/http"

func handleGetStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	status, err := deps.Tools.GetStatus(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err, "STATUS_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
