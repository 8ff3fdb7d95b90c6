package web

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func sendJSON(w http.ResponseWriter, status int, obj interface{}) {
	b, err := json.Marshal(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, errorJSON{Error: msg})
}

func cacheNever(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, must-revalidate")
	w.Header().Set("Expires", "0")
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
