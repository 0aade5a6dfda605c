package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
	"github.com/dukerupert/homebank/internal/websocket"
)

type RewardHandler struct {
	rewardStore *store.RewardStore
	userStore   *store.UserStore
	hub         *websocket.Hub
	clock       clock.Clock
	logger      *slog.Logger
}

func NewRewardHandler(rs *store.RewardStore, us *store.UserStore, hub *websocket.Hub, clk clock.Clock, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewardStore: rs, userStore: us, hub: hub, clock: clk, logger: logger}
}

func (h *RewardHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type rewardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PointCost   int    `json:"point_cost"`
	Stock       int    `json:"stock"`
}

func (req *rewardRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	switch {
	case req.Title == "":
		return "title is required"
	case req.PointCost <= 0:
		return "point_cost must be positive"
	case req.Stock < 0:
		return "stock cannot be negative"
	}
	return ""
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	reward, err := h.rewardStore.Create(req.Title, req.Description, req.PointCost, req.Stock, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("create reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create reward")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityReward, websocket.ActionCreated, reward.ID, nil))

	writeJSON(w, http.StatusCreated, reward)
}

func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.rewardStore.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rewards")
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.rewardStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	reward, err := h.rewardStore.Update(id, req.Title, req.Description, req.PointCost, req.Stock)
	if err != nil {
		h.logger.Error("update reward", "reward_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update reward")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityReward, websocket.ActionUpdated, id, nil))

	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.rewardStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	if err := h.rewardStore.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete reward")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityReward, websocket.ActionDeleted, id, nil))

	w.WriteHeader(http.StatusNoContent)
}

// Redeem buys one unit of a reward. Children redeem for themselves; a parent
// may redeem on behalf of one of their children by passing user_id.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req struct {
		UserID *int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	buyerID := ac.UserID
	if ac.Role != model.RoleChild {
		if req.UserID == nil {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		child, err := h.userStore.GetByID(*req.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get user")
			return
		}
		if child == nil || child.Role != model.RoleChild {
			writeError(w, http.StatusNotFound, "child not found")
			return
		}
		if ac.Role == model.RoleParent && (child.ParentID == nil || *child.ParentID != ac.UserID) {
			writeError(w, http.StatusForbidden, "not your child")
			return
		}
		buyerID = child.ID
	}

	redemption, err := h.rewardStore.Redeem(id, buyerID, h.clock.Now())
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to redeem reward")
		return
	}
	if redemption == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityReward, websocket.ActionRedeemed, id, nil))
	if h.hub != nil {
		h.hub.SendToUsers(websocket.NewMessage(websocket.EntityPoints, websocket.ActionUpdated, buyerID,
			map[string]any{"balance": redemption.NewBalance}), buyerID)
	}

	writeJSON(w, http.StatusCreated, redemption)
}
