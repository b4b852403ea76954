package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Claims are the token claims the RCM backend issues. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	RoleID string `json:"role_id"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation from RS256 over JWKS to HS256 with this
	// key. Only one method is accepted at a time.
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

// JWTMiddleware validates the bearer token, resolves the caller's role and
// permissions through resolver and stores the resulting User on the request
// context.
func JWTMiddleware(cfg JWTConfig, resolver PermissionResolver, logger zerolog.Logger) echo.MiddlewareFunc {
	var keyfunc jwt.Keyfunc
	method := jwt.SigningMethodRS256.Alg()
	if len(cfg.SigningKey) > 0 {
		keyfunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		method = jwt.SigningMethodHS256.Alg()
	} else {
		keyfunc = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL).Keyfunc
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{method})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			user, err := buildUser(c, claims, resolver)
			if err != nil {
				logger.Warn().Err(err).Str("sub", claims.Subject).Msg("unable to resolve token role")
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown role")
			}

			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), user)))
			return next(c)
		}
	}
}

// DevAuthMiddleware accepts unauthenticated requests as an administrator
// named dev-user. Requests that do carry a bearer token are validated as in
// JWTMiddleware.
func DevAuthMiddleware(cfg JWTConfig, resolver PermissionResolver, logger zerolog.Logger) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg, resolver, logger)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return withToken(c)
			}

			ctx := c.Request().Context()
			roleID, err := resolver.RoleIDByName(ctx, "administrator")
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "rbac not initialized")
			}
			perms, err := resolver.PermissionNames(ctx, roleID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "rbac not initialized")
			}
			user := &User{
				ID:          "dev-user",
				RoleID:      roleID,
				Role:        "administrator",
				Permissions: perms,
				Name:        "Development User",
			}
			c.SetRequest(c.Request().WithContext(WithUser(ctx, user)))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func buildUser(c echo.Context, claims *Claims, resolver PermissionResolver) (*User, error) {
	ctx := c.Request().Context()

	var (
		roleID uuid.UUID
		err    error
	)
	switch {
	case claims.RoleID != "":
		roleID, err = uuid.Parse(claims.RoleID)
		if err != nil {
			return nil, fmt.Errorf("parse role_id: %w", err)
		}
	case claims.Role != "":
		roleID, err = resolver.RoleIDByName(ctx, claims.Role)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("token carries no role")
	}

	name, err := resolver.RoleName(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("role %s does not exist", roleID)
	}
	perms, err := resolver.PermissionNames(ctx, roleID)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:          claims.Subject,
		RoleID:      roleID,
		Role:        name,
		Permissions: perms,
		Name:        claims.Name,
		Email:       claims.Email,
	}, nil
}
