package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/visibility"
)

const (
	sectionPattern = "/{section:notifi|minutes}"
	idPattern      = "/{id:[0-9]+}"
)

// RouterOptions carries everything NewRouter mounts.
type RouterOptions struct {
	Handler *Handler
	Auth    *AuthHandler
	// Sessions resolves the session cookie into a caller.
	Sessions *auth.Service
	Policy   visibility.Policy
	// Events, if non-nil, is mounted at GET /events.
	Events http.Handler
	// Blobs, if non-nil, is mounted at GET /blobs/{name}.
	Blobs http.HandlerFunc
}

// NewRouter creates a chi router with all content routes mounted.
func NewRouter(opts RouterOptions) chi.Router {
	h := opts.Handler
	policy := opts.Policy
	if policy == nil {
		policy = visibility.SessionPolicy{}
	}

	r := chi.NewRouter()
	r.Use(Identify(opts.Sessions, opts.Auth.cookie.Name))

	r.Post("/login", opts.Auth.Login)
	r.Get("/logout", opts.Auth.Logout)
	r.Post("/logout", opts.Auth.Logout)

	// Reads; the caller's scope decides hidden rows and editability.
	r.Get(sectionPattern+"/data", h.ListMeetings)
	r.Get(sectionPattern+"/data"+idPattern, h.GetMeeting)
	r.Get("/regulations/data", h.ListRegulations)
	r.Get("/regulations/data"+idPattern, h.GetRegulation)

	// Public viewer, always anonymous.
	r.Route("/viewer", func(r chi.Router) {
		r.Use(anonymous)
		r.Get(sectionPattern+"/data", h.ListMeetings)
		r.Get(sectionPattern+"/data"+idPattern, h.GetMeeting)
		r.Get("/regulations/data", h.ListRegulations)
		r.Get("/regulations/data"+idPattern, h.GetRegulation)
	})

	// Writes.
	r.Group(func(r chi.Router) {
		r.Use(RequirePrivileged(policy))
		r.Post(sectionPattern+"/upload", h.UploadMeeting)
		r.Post(sectionPattern+"/delete", h.DeleteMeeting)
		r.Post("/regulations/upload", h.UploadRegulation)
		r.Post("/regulations/delete", h.DeleteRegulation)
	})

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}
	if opts.Blobs != nil {
		r.Get("/blobs/{name}", opts.Blobs)
	}

	return r
}

func anonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), auth.Anonymous())))
	})
}
