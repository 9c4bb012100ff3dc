package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/permissions"
	"github.com/camden-git/gallerydelivery/realtime"
	"github.com/camden-git/gallerydelivery/repository"
	"github.com/camden-git/gallerydelivery/services"
	"github.com/camden-git/gallerydelivery/workers"
)

// defaultRequestTimeout bounds every route except uploads and downloads. downloads depend on
// the client's read rate; upload batches carry their own deadline.
const defaultRequestTimeout = 60 * time.Second

// RouterDeps carries everything the HTTP surface is wired to.
type RouterDeps struct {
	Users     repository.UserRepository
	Catalog   *services.Catalog
	Issuer    *credentials.Issuer
	Verifier  *credentials.Verifier
	Exporter  *services.ArchiveExporter
	Galleries *services.GalleryService
	Analytics *services.Analytics
	Pool      *workers.DerivativePool
	Store     media.Store
	Hub       *realtime.Hub

	AdminSecret     string
	AdminSessionTTL time.Duration
	MaxUploadBytes  int64
	UploadTimeout   time.Duration
	RequestTimeout  time.Duration
	PublicSiteURL   string
	AuthRateLimit   int
	AllowedOrigins  []string
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	authLimit := httprate.Limit(deps.AuthRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			WriteAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many authentication attempts, retry later")
		}),
	)

	public := &PublicHandler{
		Catalog:  deps.Catalog,
		Issuer:   deps.Issuer,
		Verifier: deps.Verifier,
		Exporter: deps.Exporter,
	}
	auth := NewAuthHandler(deps.Users, deps.AdminSecret, deps.AdminSessionTTL)
	requestTimeout := deps.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	timeout := middleware.Timeout(requestTimeout)

	admin := &AdminGalleryHandler{
		Galleries:      deps.Galleries,
		Pool:           deps.Pool,
		MaxUploadBytes: deps.MaxUploadBytes,
		UploadTimeout:  deps.UploadTimeout,
		PublicSiteURL:  deps.PublicSiteURL,
	}
	analytics := &AnalyticsHandler{Analytics: deps.Analytics}
	perms := &PermissionHandler{}
	visitor := VisitorMiddleware(deps.Verifier)
	adminAuth := AuthMiddleware(deps.Users, []byte(deps.AdminSecret), false)
	can := RequireGlobalPermission

	r.Route("/public", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/galleries", public.ListGalleries)
			r.Get("/galleries/{slug}", public.GetGallery)
			r.With(authLimit).Post("/galleries/{slug}/auth", public.Authenticate)
			r.Get("/galleries/{slug}/images", public.ListImages)
			r.With(visitor).Post("/images/{imageId}/favorite", public.ToggleFavorite)
			r.With(visitor).Post("/images/{imageId}/view", public.RecordView)
		})

		r.Get("/galleries/{slug}/download", public.DownloadGallery)
		r.With(visitor).Get("/images/{imageId}/download", public.DownloadImage)
	})

	r.Route("/admin", func(r chi.Router) {
		r.With(timeout, authLimit).Post("/login", auth.Login)

		// browsers can not set headers on websocket upgrades
		r.With(AuthMiddleware(deps.Users, []byte(deps.AdminSecret), true)).Get("/events", deps.Hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth)

			r.With(timeout).Get("/me", auth.CurrentUser)
			r.With(timeout).Get("/permissions", perms.ListPermissionDefinitions)
			r.With(timeout).Get("/permissions/keys", perms.ListPermissionKeys)

			r.Route("/galleries", func(r chi.Router) {
				r.With(timeout, can(permissions.GalleryList)).Get("/", admin.ListGalleries)
				r.With(timeout, can(permissions.GalleryCreate)).Post("/", admin.CreateGallery)
				r.Route("/{id}", func(r chi.Router) {
					r.With(can(permissions.GalleryUpload)).Post("/upload", admin.UploadImages)

					r.Group(func(r chi.Router) {
						r.Use(timeout)
						r.With(can(permissions.GalleryList)).Get("/", admin.GetGallery)
						r.With(can(permissions.GalleryEdit)).Put("/", admin.UpdateGallery)
						r.With(can(permissions.GalleryDelete)).Delete("/", admin.DeleteGallery)
						r.With(can(permissions.GalleryList)).Get("/images", admin.ListImages)
						r.With(can(permissions.GalleryUpload)).Delete("/images/{imageId}", admin.DeleteImage)
						r.With(can(permissions.VisitorList)).Get("/visitors", admin.ListVisitors)
						r.With(can(permissions.VisitorRevoke)).Post("/visitors/{visitorId}/revoke", admin.RevokeVisitor)
						r.With(can(permissions.GalleryList)).Get("/qrcode", admin.ShareQRCode)
					})
				})
			})

			r.Route("/analytics/galleries/{id}", func(r chi.Router) {
				r.Use(timeout, can(permissions.AnalyticsView))
				r.Get("/", analytics.Summary)
				r.Post("/rebuild", analytics.Rebuild)
			})
		})
	})

	r.Get("/media/*", MediaServer(deps.Store))
	r.Head("/media/*", MediaServer(deps.Store))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"realtimeClients": deps.Hub.ClientCount(),
		})
	})

	return r
}
