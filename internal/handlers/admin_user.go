package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-assistance/httpx"
	"github.com/diewo77/go-assistance/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProfileCache is notified when a user's profile changes.
type ProfileCache interface {
	InvalidateUser(userID uint)
}

// AdminUserHandler handles user profile assignment.
// It allows admins to view users and assign them to profiles.
type AdminUserHandler struct {
	DB    *gorm.DB
	Cache ProfileCache
	Log   *zap.Logger
}

// NewAdminUserHandler creates a new admin user handler.
func NewAdminUserHandler(db *gorm.DB, cache ProfileCache, log *zap.Logger) *AdminUserHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminUserHandler{DB: db, Cache: cache, Log: log}
}

// List returns all users with their profile, and the assignable profiles.
func (h *AdminUserHandler) List(w http.ResponseWriter, r *http.Request) {
	db := h.DB.WithContext(r.Context())
	var users []models.User
	if err := db.Preload("Profile").Order("id").Find(&users).Error; err != nil {
		h.Log.Error("list users", zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	var profiles []models.Profile
	if err := db.Preload("Permissions").Order("name").Find(&profiles).Error; err != nil {
		h.Log.Error("list profiles", zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users":    users,
		"profiles": profiles,
	})
}

type assignProfileBody struct {
	// A nil ProfileID removes the user's profile.
	ProfileID *uint `json:"profileId"`
}

// AssignProfile handles POST /admin/users/{id}/profile.
func (h *AdminUserHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var body assignProfileBody
	if !decode(w, r, &body) {
		return
	}
	db := h.DB.WithContext(r.Context())

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		h.notFoundOr(w, r, err, "user_not_found")
		return
	}
	if body.ProfileID != nil {
		var profile models.Profile
		if err := db.First(&profile, *body.ProfileID).Error; err != nil {
			h.notFoundOr(w, r, err, "profile_not_found")
			return
		}
	}

	if err := db.Model(&user).Update("profile_id", body.ProfileID).Error; err != nil {
		h.Log.Error("assign profile", zap.Uint("user_id", userID), zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	if h.Cache != nil {
		h.Cache.InvalidateUser(userID)
	}
	if err := db.Preload("Profile").First(&user, userID).Error; err != nil {
		h.notFoundOr(w, r, err, "user_not_found")
		return
	}
	h.Log.Info("profile assigned", zap.Uint("user_id", userID), zap.String("profile", user.Role()))
	httpx.Message(w, r, http.StatusOK, "profile_assigned", "user", user)
}

func (h *AdminUserHandler) notFoundOr(w http.ResponseWriter, r *http.Request, err error, code string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.JSONError(w, r, http.StatusNotFound, code, nil)
		return
	}
	h.Log.Error("admin lookup", zap.Error(err))
	httpx.JSONError(w, r, http.StatusInternalServerError, "internal_error", nil)
}
