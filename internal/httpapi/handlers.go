package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

func terminalID(r *http.Request) string {
	return chi.URLParam(r, "terminalID")
}

func (a *API) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetCheckout(r.Context(), terminalID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Cancel(r.Context(), terminalID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.CartItemInput
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.AddItem(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req domain.CartLineUpdate
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.UpdateLine(r.Context(), terminalID(r), chi.URLParam(r, "lineID"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveLine(r.Context(), terminalID(r), chi.URLParam(r, "lineID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.Discount
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.SetDiscount(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.AddPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.AddPayment(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleClosePaymentDialog(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClosePaymentDialog(r.Context(), terminalID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleConfirmReference(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmReferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.ConfirmReference(r.Context(), terminalID(r), chi.URLParam(r, "paymentID"), req.Reference)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemovePayment(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemovePayment(r.Context(), terminalID(r), chi.URLParam(r, "paymentID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleStartMpesa(w http.ResponseWriter, r *http.Request) {
	var req domain.MpesaStartRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.StartMpesa(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (a *API) handleMpesaStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.MpesaStatus(r.Context(), terminalID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSubmitPesapal(w http.ResponseWriter, r *http.Request) {
	var req domain.PesapalSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.SubmitPesapal(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleVerifyPesapal(w http.ResponseWriter, r *http.Request) {
	var req domain.PesapalVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.VerifyPesapal(r.Context(), terminalID(r), req.TrackingID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePesapalReturn is where Pesapal sends the customer's browser back. It
// resumes the persisted order and bounces to the terminal UI without the
// tracking parameters, so a reload does not verify again.
func (a *API) handlePesapalReturn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	trackingID := strings.TrimSpace(query.Get("OrderTrackingId"))

	outcome := "error"
	view, err := a.service.ResumePesapal(r.Context(), trackingID)
	switch {
	case err == nil:
		outcome = string(view.State)
	case apperror.IsCode(err, apperror.CodeNotFound):
		outcome = "unknown"
	default:
		ctx := a.log.WithField(r.Context(), "order_tracking_id", trackingID)
		a.log.Warn(ctx, "pesapal return could not be resumed: "+err.Error())
	}

	http.Redirect(w, r, a.returnLocation(query, outcome), http.StatusSeeOther)
}

func (a *API) returnLocation(query url.Values, outcome string) string {
	target, err := url.Parse(a.pesapalReturnURL)
	if err != nil || a.pesapalReturnURL == "" {
		target = &url.URL{Path: "/"}
	}
	params := target.Query()
	for key, values := range query {
		switch key {
		case "OrderTrackingId", "OrderMerchantReference", "OrderNotificationType":
			continue
		}
		for _, value := range values {
			params.Add(key, value)
		}
	}
	params.Set("pesapal", outcome)
	target.RawQuery = params.Encode()
	return target.String()
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	resp, err := a.service.CompleteSale(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.service.OpenShift(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetShift(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetShift(r.Context(), terminalID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftByID(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetShiftByID(r.Context(), chi.URLParam(r, "shiftID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePayout(w http.ResponseWriter, r *http.Request) {
	if !a.pinLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, apperror.New(apperror.CodeRateLimit, "too many manager PIN attempts"))
		return
	}

	var req domain.PayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.writeError(w, r, apperror.New(apperror.CodeForbidden, "manager PIN is invalid"))
		return
	}

	entry, err := a.service.RecordPayout(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.service.CloseShift(r.Context(), terminalID(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
