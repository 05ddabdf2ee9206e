package router

import (
	"context"
	"net/http"

	docHandler "docgraph/internal/document"
	"docgraph/internal/document/service"
	"docgraph/middleware"
	"docgraph/pkg/metrics"
	"docgraph/socket"
)

type Deps struct {
	Service   *service.DocumentService
	Hub       *socket.Hub
	Verifier  middleware.TokenVerifier
	Metrics   *metrics.Metrics
	AppOrigin string
	// Health reports whether the store is reachable; nil means always healthy.
	Health func(ctx context.Context) error
}

func Setup(d Deps) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(d.Verifier)

	// WebSocket change feed
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userEmail, _ := middleware.UserEmail(r.Context())
		socket.ServeWs(d.Hub, w, r, userEmail)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	docs := docHandler.NewDocumentHandler(d.Service)

	mux.Handle("/editMany", auth(http.HandlerFunc(docs.EditMany)))
	mux.Handle("/editFile", auth(http.HandlerFunc(docs.EditFile)))
	mux.Handle("/deleteFile", auth(http.HandlerFunc(docs.DeleteFile)))
	mux.Handle("/updateUser", auth(http.HandlerFunc(docs.UpdateUser)))
	mux.Handle("/getUserData", auth(http.HandlerFunc(docs.GetUserData)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				middleware.WriteError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", d.Metrics.Handler())

	var h http.Handler = mux
	h = middleware.CORSMiddleware(d.AppOrigin)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RequestLogger(d.Metrics)(h)
	return h
}
