package auth

import (
	"net/http"

	"github.com/saulo-duarte/cbt-engine/internal/config"
)

// CookieName is the cookie AuthMiddleware falls back to when no bearer token is sent.
const CookieName = "jwt"

type CookieConfig struct {
	Domain string
	// Secure is off only for plain-HTTP local runs; browsers drop SameSite=None
	// cookies that are not Secure, so those get Lax instead.
	Secure bool
}

type Handler struct {
	cookie CookieConfig
}

func NewHandler(cookie CookieConfig) *Handler {
	return &Handler{cookie: cookie}
}

// Logout clears the session cookie. It needs no valid token, so an expired
// session can still be cleared; a readable token only adds the user to the log.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())
	if c, err := r.Cookie(CookieName); err == nil {
		if claims, err := ValidateJWT(c.Value); err == nil {
			log = log.WithField("user_id", claims.UserID).WithField("tenant_id", claims.TenantID)
		}
	}

	sameSite := http.SameSiteNoneMode
	if !h.cookie.Secure {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: sameSite,
	})

	log.Info("Session cookie cleared")
	config.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
