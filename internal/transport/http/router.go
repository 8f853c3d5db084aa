package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter wires the REST and websocket endpoints behind CORS.
func NewRouter(service GameService, opts ...WSOption) http.Handler {
	rest := NewRESTHandler(service)
	ws := NewWSHandler(service, opts...)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/games", rest.CreateGame).Methods(http.MethodPost)
	r.HandleFunc("/games/{id}", rest.Snapshot).Methods(http.MethodGet)
	r.HandleFunc("/games/{id}/participants", rest.Join).Methods(http.MethodPost)
	r.HandleFunc("/games/{id}/leaderboard", rest.Leaderboard).Methods(http.MethodGet)

	r.HandleFunc("/ws/host", ws.ServeHost).Methods(http.MethodGet)
	r.HandleFunc("/ws/play", ws.ServePlayer).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}
