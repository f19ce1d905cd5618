package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v4"
)

const ctxAdminSubject = "admin_sub"

// AdminSubjectFromCtx returns the subject of the verified admin token.
func AdminSubjectFromCtx(c echo.Context) (string, bool) {
	s, ok := c.Get(ctxAdminSubject).(string)
	return s, ok
}

// AdminJWTMiddleware guards tenant management with an HS256 bearer token.
func AdminJWTMiddleware(secret []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || raw == "" {
				return reject(c, http.StatusUnauthorized, fieldError{Name: echo.HeaderAuthorization, Message: "Missing bearer token"})
			}

			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				return reject(c, http.StatusUnauthorized, fieldError{Name: echo.HeaderAuthorization, Message: "Invalid token"})
			}
			c.Set(ctxAdminSubject, claims.Subject)
			return next(c)
		}
	}
}
