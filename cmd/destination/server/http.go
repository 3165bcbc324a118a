package server

import (
	"encoding/json"
	"io"
	"net/http"

	"gopkg.in/op/go-logging.v1"
)

// HTTPHandler serves the echo over HTTP. A request body is echoed like a
// stream request; an empty one echoes the method and path.
func HTTPHandler(log *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestSize))
		var resp Echo
		switch {
		case err != nil:
			resp = Echo{Result: "ERROR", Error: err.Error()}
		case len(body) == 0:
			req, _ := json.Marshal(map[string]string{"method": r.Method, "path": r.URL.Path})
			resp = Echo{Result: "OK", Echo: req}
		default:
			resp = Respond(body)
		}
		log.Debugf("request %s %s: %s", r.Method, r.URL.Path, resp.Result)

		w.Header().Set("Content-Type", "application/json")
		if resp.Result != "OK" {
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}
