//go:build noprom

package metrics

import "net/http"

// When built with -tags noprom, only the health endpoint is served.
func enablePrometheus() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)
	return mux, nil
}
