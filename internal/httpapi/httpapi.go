package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/service"
	"dukapos/backend/internal/store"
)

type Options struct {
	AllowedOrigin    string
	PesapalReturnURL string
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Logger         *logger.Logger
}

type API struct {
	service          *service.Service
	auth             *AuthManager
	log              *logger.Logger
	allowedOrigin    string
	pesapalReturnURL string
	metricsHandler   http.Handler
	pinLimiter       *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:          svc,
		auth:             auth,
		log:              opts.Logger,
		allowedOrigin:    opts.AllowedOrigin,
		pesapalReturnURL: opts.PesapalReturnURL,
		metricsHandler:   opts.MetricsHandler,
		pinLimiter:       newAttemptLimiter(8, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		a.recoverer,
		a.requestID,
		a.accessLog,
		a.securityHeaders,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperror.New(apperror.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}
	r.Get("/api/v1/pesapal/return", a.handlePesapalReturn)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

		r.Get("/shifts/{shiftID}", a.handleShiftByID)

		r.Route("/terminals/{terminalID}", func(r chi.Router) {
			r.Route("/checkout", func(r chi.Router) {
				r.Get("/", a.handleGetCheckout)
				r.Delete("/", a.handleCancelCheckout)
				r.Post("/items", a.handleAddItem)
				r.Patch("/items/{lineID}", a.handleUpdateLine)
				r.Delete("/items/{lineID}", a.handleRemoveLine)
				r.Put("/discount", a.handleSetDiscount)
				r.Post("/payments", a.handleAddPayment)
				r.Delete("/payments", a.handleClosePaymentDialog)
				r.Post("/payments/{paymentID}/reference", a.handleConfirmReference)
				r.Delete("/payments/{paymentID}", a.handleRemovePayment)
				r.Post("/mpesa", a.handleStartMpesa)
				r.Get("/mpesa", a.handleMpesaStatus)
				r.Post("/pesapal", a.handleSubmitPesapal)
				r.Post("/pesapal/verify", a.handleVerifyPesapal)
				r.Post("/complete", a.handleCompleteSale)
			})
			r.Route("/shift", func(r chi.Router) {
				r.Get("/", a.handleGetShift)
				r.Post("/open", a.handleShiftOpen)
				r.Post("/payouts", a.handlePayout)
				r.Post("/close", a.handleShiftClose)
			})
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, "invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, validationMessage(err))
	}
	return nil
}

// writeError maps err onto its HTTP status. 5xx bodies carry only the public
// message, except gateway failures whose messages are already cashier-facing.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperror.CodeInternal
	message := ""
	if errors.Is(err, store.ErrNotFound) {
		code = apperror.CodeNotFound
		message = "resource not found"
	} else if typed := apperror.As(err); typed != nil {
		code = typed.Code()
		message = typed.Message()
	}

	meta := apperror.MetadataFor(code)
	if meta.HTTPStatus >= 500 {
		a.log.Error(r.Context(), "request failed", err)
		if code != apperror.CodeGateway || message == "" {
			message = meta.PublicMessage
		}
	}
	if strings.TrimSpace(message) == "" {
		message = meta.PublicMessage
	}
	writeErrorBody(w, meta.HTTPStatus, string(code), message)
}

func writeErrorBody(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
