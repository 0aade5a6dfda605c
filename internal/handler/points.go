package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
)

type PointsHandler struct {
	userStore        *store.UserStore
	transactionStore *store.TransactionStore
	logger           *slog.Logger
}

func NewPointsHandler(us *store.UserStore, ts *store.TransactionStore, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{userStore: us, transactionStore: ts, logger: logger}
}

// canView reports whether the caller may see u's ledger: their own, one of
// their children's, or anyone's for an admin.
func canView(ac auth.AuthContext, u *model.User) bool {
	switch {
	case ac.UserID == u.ID, ac.Role == model.RoleAdmin:
		return true
	case ac.Role == model.RoleParent:
		return u.ParentID != nil && *u.ParentID == ac.UserID
	}
	return false
}

// Get returns the user's balance and ledger, newest first.
func (h *PointsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	if !canView(ac, user) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	txns, err := h.transactionStore.ListByUser(id)
	if err != nil {
		h.logger.Error("list transactions", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get balance")
		return
	}
	if txns == nil {
		txns = []model.PointTransaction{}
	}

	writeJSON(w, http.StatusOK, model.PointBalance{
		UserID:       user.ID,
		Name:         user.Name,
		Balance:      user.Points,
		Transactions: txns,
	})
}
