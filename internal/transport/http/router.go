package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/meeting-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/meeting-service/internal/transport/origin"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	Handler *Handler
	WS      http.HandlerFunc
	Origins *origin.Matcher
}

func NewRouter(d RouterDeps) http.Handler {
	origins := d.Origins
	if origins == nil {
		origins = origin.NewMatcher(nil)
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.RequestID)

	// WS endpoint: без таймаута и сжатия, origin проверяет upgrader
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}

	r.Group(func(api chi.Router) {
		api.Use(httpmw.Logging)
		api.Use(middlewareChi.Timeout(30 * time.Second))
		api.Use(cors.Handler(cors.Options{
			AllowOriginFunc: func(_ *http.Request, o string) bool { return origins.Allow(o) },
			AllowedMethods:  []string{"GET", "OPTIONS"},
			AllowedHeaders:  []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:  []string{httpmw.HeaderRequestID},
			MaxAge:          300,
		}))

		api.Get("/api/health", d.Handler.Health)
		api.Route("/api/rooms/{id}", func(rr chi.Router) {
			rr.Get("/", d.Handler.GetRoom)
			rr.Get("/participants", d.Handler.GetParticipants)
			rr.Get("/messages", d.Handler.GetMessages)
		})
	})

	// liveness
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
