package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/secure-login-api/internal/middleware"
	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/internal/service"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
	"github.com/noah-isme/secure-login-api/pkg/response"
)

// CookieSettings controls the session cookies written by AuthHandler.
type CookieSettings struct {
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
	cookies CookieSettings
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, cookies CookieSettings) *AuthHandler {
	if cookies.AccessTTL <= 0 {
		cookies.AccessTTL = 15 * time.Minute
	}
	if cookies.RefreshTTL <= 0 {
		cookies.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{service: svc, cookies: cookies}
}

// Register godoc
// @Summary Register account
// @Description Create an account from email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope{data=models.RegisterResponse}
// @Failure 400 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	account, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, models.RegisterResponse{OK: true, Account: *account})
}

// Login godoc
// @Summary Authenticate account
// @Description Authenticate by email and password; tokens are set as HttpOnly cookies
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope{data=models.SessionResponse}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.writeSession(c, pair)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Description Exchange the refresh cookie (or body token) for a new token pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest false "Refresh payload when no cookie is sent"
// @Success 200 {object} response.Envelope{data=models.SessionResponse}
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	req := models.RefreshTokenRequest{RefreshToken: h.refreshToken(c)}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.writeSession(c, pair)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh token and clear session cookies. Always succeeds.
// @Tags Authentication
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope{data=models.StatusResponse}
// @Failure 429 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	meta := models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	h.service.Logout(c.Request.Context(), h.refreshToken(c), meta)

	h.setCookie(c, middleware.AccessTokenCookie, "", -1)
	h.setCookie(c, middleware.RefreshTokenCookie, "", -1)
	response.JSON(c, http.StatusOK, models.StatusResponse{OK: true})
}

// Me godoc
// @Summary Current account
// @Description Return the account bound to the access token
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=models.AccountInfo}
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	account, err := h.service.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, account)
}

func (h *AuthHandler) writeSession(c *gin.Context, pair *models.TokenPair) {
	h.setCookie(c, middleware.AccessTokenCookie, pair.AccessToken, int(h.cookies.AccessTTL.Seconds()))
	h.setCookie(c, middleware.RefreshTokenCookie, pair.RefreshToken, int(h.cookies.RefreshTTL.Seconds()))
	response.JSON(c, http.StatusOK, models.SessionResponse{
		OK:               true,
		AccountID:        pair.AccountID,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

// refreshToken reads the refresh cookie, falling back to a JSON body.
func (h *AuthHandler) refreshToken(c *gin.Context) string {
	if cookie, err := c.Cookie(middleware.RefreshTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return ""
	}
	var body models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}
