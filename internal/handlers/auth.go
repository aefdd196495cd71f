package handlers

import (
	"errors"
	"net/http"

	"kiln_control/internal/repository"
	"kiln_control/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errCreateUser         = "failed to create user"
	errInvalidCredentials = "invalid credentials"
)

// authCredentials is the body of both sign-up and sign-in.
type authCredentials struct {
	Username string `json:"username" binding:"required" example:"operator"`
	Password string `json:"password" binding:"required" example:"cone6"`
}

func (h *Handler) bindCredentials(c *gin.Context) (authCredentials, bool) {
	var in authCredentials
	if err := c.ShouldBindJSON(&in); err != nil {
		if h.log != nil {
			h.log.Infow("auth_bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return in, false
	}
	return in, true
}

// @Summary      Register a user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]int
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	in, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	id, err := h.services.SignUp(in.Username, in.Password)
	if err != nil {
		var code int
		msg := err.Error()
		switch {
		case errors.Is(err, repository.ErrUserExists):
			code, msg = http.StatusConflict, repository.ErrUserExists.Error()
		case errors.Is(err, service.ErrInvalidInput):
			code = http.StatusBadRequest
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, errCreateUser, "auth_sign_up_failed", err, "username", in.Username)
			return
		}
		if h.log != nil {
			h.log.Infow("auth_sign_up_rejected", "username", in.Username, "status", code, "err", err)
		}
		c.JSON(code, gin.H{"error": msg})
		return
	}

	if h.log != nil {
		h.log.Infow("auth_user_created", "username", in.Username, "user_id", id)
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// @Summary      Obtain a bearer token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	in, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	// unknown user and wrong password look the same to the client
	token, err := h.services.GenerateToken(in.Username, in.Password)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_sign_in_failed", "username", in.Username, "err", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
