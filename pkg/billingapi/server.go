package billingapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/gigkeys/pkg/logger"
	"github.com/dmitrymomot/gigkeys/pkg/ratelimiter"
	"github.com/dmitrymomot/gigkeys/pkg/requestid"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

// maxBodySize bounds request bodies; every request body is a small JSON object.
const maxBodySize = 1 << 16

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithUserResolver replaces the default X-User-ID header resolver.
func WithUserResolver(r UserResolver) ServerOption {
	return func(s *Server) {
		if r != nil {
			s.users = r
		}
	}
}

// WithServerCatalog sets the catalog used by the subscription view.
func WithServerCatalog(c *subscription.Catalog) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMutationLimiter throttles the POST endpoints per user. Denied requests
// get 429 with a JSON error body.
func WithMutationLimiter(l *ratelimiter.Limiter) ServerOption {
	return func(s *Server) {
		s.limiter = l
	}
}

// Server exposes a BillingCollaborator over the REST contract.
type Server struct {
	billing subscription.BillingCollaborator
	catalog *subscription.Catalog
	users   UserResolver
	limiter *ratelimiter.Limiter
	log     *slog.Logger
}

// NewServer panics when billing is nil.
func NewServer(billing subscription.BillingCollaborator, opts ...ServerOption) *Server {
	if billing == nil {
		panic("billingapi: nil billing collaborator")
	}
	s := &Server{
		billing: billing,
		catalog: subscription.DefaultCatalog(),
		users:   HeaderUserResolver(UserHeader),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billingapi"))
	return s
}

// Routes returns the API router. Mount it at the root: paths include /api.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer, s.logRequests)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get(pathStatus, s.handleStatus)
		r.Get(pathMethods, s.handleMethods)
		r.Get(pathView, s.handleView)

		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post(pathSetupIntent, s.handleSetupIntent)
			r.Post(pathCreate, s.handleCreate)
			r.Post(pathUpdate, s.handleUpdate)
			r.Post(pathCancel, s.handleCancel)
		})
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.GetSubscriptionStatus(r.Context(), userFrom(r))
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Subscription: sub})
}

func (s *Server) handleSetupIntent(w http.ResponseWriter, r *http.Request) {
	si, err := s.billing.CreateSetupIntent(r.Context(), userFrom(r))
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	if si == nil {
		writeError(w, http.StatusBadGateway, "no setup intent returned")
		return
	}
	writeJSON(w, http.StatusOK, setupIntentResponse{ClientSecret: si.ClientSecret})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChange(w, r)
	if !ok {
		return
	}
	res, err := s.billing.CreateSubscription(r.Context(), userFrom(r), req.PriceID, req.PaymentMethodID)
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	switch res := res.(type) {
	case subscription.Success:
		writeJSON(w, http.StatusOK, changeResponse{Status: res.Status})
	case subscription.NeedsConfirmation:
		writeJSON(w, http.StatusOK, changeResponse{ClientSecret: res.ClientSecret})
	case subscription.Failure:
		writeError(w, http.StatusBadRequest, res.Reason)
	default:
		writeError(w, http.StatusBadGateway, "unexpected subscription result")
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChange(w, r)
	if !ok {
		return
	}
	res, err := s.billing.UpdateSubscription(r.Context(), userFrom(r), req.PriceID, req.PaymentMethodID)
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	switch res := res.(type) {
	case subscription.Success:
		if !res.Acknowledged {
			writeError(w, http.StatusBadGateway, "update not acknowledged")
			return
		}
		writeJSON(w, http.StatusOK, changeResponse{Message: msgUpdated})
	case subscription.NeedsConfirmation:
		writeJSON(w, http.StatusOK, changeResponse{ClientSecret: res.ClientSecret})
	case subscription.Failure:
		writeError(w, http.StatusBadRequest, res.Reason)
	default:
		writeError(w, http.StatusBadGateway, "unexpected subscription result")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest.Error())
		return
	}
	cancel := *req.Status
	res, err := s.billing.SetCancellation(r.Context(), userFrom(r), cancel)
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	switch res := res.(type) {
	case subscription.Success:
		msg := msgCancelled
		if !cancel {
			msg = msgReactivated
		}
		writeJSON(w, http.StatusOK, cancelResponse{Message: msg, Success: res.Acknowledged})
	case subscription.Failure:
		writeError(w, http.StatusBadRequest, res.Reason)
	default:
		writeError(w, http.StatusBadGateway, "unexpected cancellation result")
	}
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.billing.ListPaymentMethods(r.Context(), userFrom(r))
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	if methods == nil {
		methods = &subscription.PaymentMethods{}
	}
	if methods.Methods == nil {
		methods.Methods = []subscription.PaymentMethod{}
	}
	writeJSON(w, http.StatusOK, methods)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.GetSubscriptionStatus(r.Context(), userFrom(r))
	if err != nil {
		s.providerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscription.NewView(subscription.Classify(sub), sub, nil, s.catalog))
}

func (s *Server) decodeChange(w http.ResponseWriter, r *http.Request) (changeRequest, bool) {
	var req changeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest.Error())
		return req, false
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.PaymentMethodID = strings.TrimSpace(req.PaymentMethodID)
	if req.PriceID == "" || req.PaymentMethodID == "" {
		writeError(w, http.StatusBadRequest, "priceId and paymentMethodId are required")
		return req, false
	}
	return req, true
}

// providerError hides collaborator internals from the caller.
func (s *Server) providerError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.ErrorContext(r.Context(), "billing provider call failed",
		logger.UserID(userFrom(r)),
		slog.String("path", r.URL.Path),
		logger.Error(err),
	)
	writeError(w, http.StatusBadGateway, msgProviderFailed)
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.users(r)
		if err != nil || id == "" {
			writeError(w, http.StatusUnauthorized, ErrMissingUser.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), id)))
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return ratelimiter.Middleware(s.limiter, userFrom,
		ratelimiter.WithLogger(s.log),
		ratelimiter.WithDeniedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.log.WarnContext(r.Context(), "billing mutation throttled",
				logger.UserID(userFrom(r)),
				slog.String("path", r.URL.Path),
			)
			writeError(w, http.StatusTooManyRequests, msgThrottled)
		})),
	)(next)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "request handled",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			logger.Duration(time.Since(start)),
		)
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
