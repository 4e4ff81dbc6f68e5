package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/instalite-chat/internal/store"
)

// searchLimit caps the number of users returned by SearchUsers.
const searchLimit = 10

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store store.UserStore
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Me returns the authenticated user.
// GET /api/users/me
func (h *UserHandlers) Me(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user))
}

// SearchUsers handles searching for chat partners by username.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	trimmed := strings.TrimSpace(c.Query("q"))
	if trimmed == "" {
		c.JSON(http.StatusOK, []UserResponse{})
		return
	}

	// One extra row so excluding the caller still fills the page.
	users, err := h.store.SearchUsers(c.Request.Context(), trimmed, searchLimit+1)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	others := lo.Filter(users, func(u *store.User, _ int) bool { return u.ID != uid })
	response := lo.Map(lo.Slice(others, 0, searchLimit), func(u *store.User, _ int) UserResponse {
		// Search results never expose email addresses.
		return UserResponse{ID: u.ID, Username: u.Username}
	})

	c.JSON(http.StatusOK, response)
}
