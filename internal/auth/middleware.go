package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/utils"
)

// StaticBearer guards admin routes with one shared token. An empty token
// disables the routes entirely rather than leaving them open.
func StaticBearer(token string, log *logger.Logger) func(http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				_ = utils.SendError(w, http.StatusForbidden, utils.NewErrorResponse("forbidden", "admin access is not configured"))
				return
			}

			presented, err := ExtractTokenFromRequest(r)
			if err != nil {
				_ = utils.SendError(w, http.StatusUnauthorized, utils.NewErrorResponse("unauthorized", err.Error()))
				return
			}

			// Hashing first keeps the comparison length-independent.
			got := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
				log.LogSecurity("ADMIN_AUTH", fmt.Sprintf("rejected admin token from %s", r.RemoteAddr))
				_ = utils.SendError(w, http.StatusUnauthorized, utils.NewErrorResponse("unauthorized", "invalid token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
