package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"log/slog"

	"creditledger/internal/infrastructure/auth"
	"creditledger/internal/models"
	service "creditledger/internal/services"
	pkgerrors "creditledger/pkg/errors"

	"github.com/gorilla/mux"
)

type Handler struct {
	users        service.UserService
	wallet       service.WalletService
	interactions service.InteractionService
	// viewCost is charged on a first view; 0 disables charging.
	viewCost int64
}

func NewHandler(users service.UserService, wallet service.WalletService, interactions service.InteractionService, viewCost int64) *Handler {
	return &Handler{users: users, wallet: wallet, interactions: interactions, viewCost: viewCost}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrWalletNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrFaceNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidTransactionState):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInsufficientCredits),
		errors.Is(err, pkgerrors.ErrInvalidPackage),
		errors.Is(err, pkgerrors.ErrInvalidMultiplier),
		errors.Is(err, pkgerrors.ErrUnsupportedProvider),
		errors.Is(err, pkgerrors.ErrVerificationFailed),
		errors.Is(err, pkgerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/faces", h.ListFaces).Methods("GET")
	r.HandleFunc("/wallet/packages", h.GetPackages).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/wallet/deposit", h.CreateDepositIntent).Methods("POST")
	r.HandleFunc("/wallet/deposit/{id}/confirm", h.ConfirmDeposit).Methods("POST")
	r.HandleFunc("/wallet/debit", h.DeductCredits).Methods("POST")
	r.HandleFunc("/wallet/history", h.GetTransactionHistory).Methods("GET")
	r.HandleFunc("/faces/{id}/view", h.RegisterView).Methods("POST")
	r.HandleFunc("/faces/{id}/like", h.ToggleLike).Methods("POST")
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/transactions", h.GetAdminTransactions).Methods("GET")
	r.HandleFunc("/transactions/{id}/process", h.ProcessTransaction).Methods("POST")
	r.HandleFunc("/stats", h.GetTransactionStats).Methods("GET")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	userID, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUsernameExists) {
			h.writeError(w, http.StatusConflict, err)
		} else if errors.Is(err, pkgerrors.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int32{"user_id": userID})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	wallet, err := h.wallet.GetOrCreateWallet(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetPackages(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.wallet.GetPaymentPackages())
}

func (h *Handler) CreateDepositIntent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		PackageID   string `json:"package_id"`
		Provider    string `json:"provider"`
		Multiplier  int32  `json:"multiplier"`
		ExternalRef string `json:"external_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	intent, err := h.wallet.CreateDepositIntent(r.Context(), ownerID, req.PackageID,
		models.PaymentProvider(req.Provider), req.Multiplier, req.ExternalRef)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusCreated, intent)
}

func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	transactionID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.wallet.ConfirmDeposit(r.Context(), ownerID, transactionID); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (h *Handler) DeductCredits(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Credits     int64  `json:"credits"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.wallet.DeductCredits(r.Context(), ownerID, req.Credits, req.Description)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit, offset := pagination(r)
	page, err := h.wallet.GetTransactionHistory(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) ListFaces(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	faces, err := h.interactions.ListFaces(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, faces)
}

func (h *Handler) RegisterView(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	faceID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, newlyViewed, err := h.interactions.RegisterView(r.Context(), ownerID, faceID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	// A first view consumes credits; this is the only place the two services
	// meet. An unfunded wallet still gets the view counted.
	if newlyViewed && h.viewCost > 0 {
		if _, err := h.wallet.DeductCredits(r.Context(), ownerID, h.viewCost,
			fmt.Sprintf("Viewed face %d", faceID)); err != nil {
			slog.Warn("first view not charged", "owner_id", ownerID, "face_id", faceID, "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	faceID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := h.interactions.ToggleLike(r.Context(), ownerID, faceID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetAdminTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := models.StatusType(r.URL.Query().Get("status"))
	if status == "ALL" {
		status = ""
	}

	page, err := h.wallet.GetAdminTransactions(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	transactionID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Action    string `json:"action"`
		AdminNote string `json:"admin_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	action := models.TransactionAction(req.Action)
	if action != models.ActionApprove && action != models.ActionReject {
		h.writeError(w, http.StatusBadRequest, errors.New("action must be approve or reject"))
		return
	}

	if err := h.wallet.ProcessTransaction(r.Context(), transactionID, adminID, action, req.AdminNote); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) GetTransactionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.wallet.GetTransactionStats(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func pathID(r *http.Request) (int32, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return int32(id), nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
