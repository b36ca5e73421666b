package authmw

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const principalKey = "kc.principal"

// Principal is the caller identity handlers work with.
type Principal struct {
	Username string   `json:"username"`
	Subject  string   `json:"sub,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

func (p Principal) Can() Capabilities {
	return CapabilitiesFor(p.Roles)
}

// PrincipalFrom returns the principal stored by an authenticator.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// Authenticator guards route groups.
type Authenticator interface {
	RequireRoles(anyOf ...string) gin.HandlerFunc
}

type KeycloakAuth struct {
	Issuer   string // e.g. http://localhost:8080/realms/myrealm
	Audience string
	ClientID string // for client roles under resource_access[ClientID].roles

	JWKS   *keyfunc.JWKS
	Leeway time.Duration

	keyfunc jwt.Keyfunc
}

// Build once at startup (don’t fetch JWKS on every request)
func NewKeycloakAuth(jwksURL, issuer, audience, clientID string) (*KeycloakAuth, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:  time.Hour,
		RefreshRateLimit: time.Minute * 5,
		RefreshTimeout:   time.Second * 10,
		RefreshErrorHandler: func(err error) {
			zap.L().Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}

	return &KeycloakAuth{
		Issuer:   issuer,
		Audience: audience,
		ClientID: clientID,
		JWKS:     jwks,
		Leeway:   30 * time.Second,
		keyfunc:  jwks.Keyfunc,
	}, nil
}

type KCClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`

	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

func (a *KeycloakAuth) RequireRoles(anyOf ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extractAccessToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims := &KCClaims{}
		_, err = jwt.ParseWithClaims(tokenStr, claims, a.keyfunc,
			jwt.WithIssuer(a.Issuer),
			jwt.WithAudience(a.Audience),
			jwt.WithLeeway(a.Leeway),
			jwt.WithValidMethods([]string{"RS256"}),
		)
		if err != nil {
			zap.L().Debug("rejected access token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		p := Principal{
			Username: claims.PreferredUsername,
			Subject:  claims.Subject,
			Email:    claims.Email,
			Roles:    collectRoles(claims, a.ClientID),
		}
		authorize(c, p, anyOf)
	}
}

// DevAuth trusts X-Debug-User and X-Debug-Roles headers. It exists for
// local runs with AUTH_DISABLED and must never face real traffic.
type DevAuth struct {
	DefaultUser  string
	DefaultRoles []string
}

func (a DevAuth) RequireRoles(anyOf ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal{Username: strings.TrimSpace(c.GetHeader("X-Debug-User"))}
		if p.Username == "" {
			p.Username = a.DefaultUser
		}
		if h := c.GetHeader("X-Debug-Roles"); h != "" {
			p.Roles = uniq(strings.Split(h, ","))
		} else {
			p.Roles = a.DefaultRoles
		}
		if p.Username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing debug user"})
			return
		}
		authorize(c, p, anyOf)
	}
}

func authorize(c *gin.Context, p Principal, anyOf []string) {
	c.Set(principalKey, p)
	if !hasAnyRole(p.Roles, anyOf...) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}
	c.Next()
}

// --- helpers ---

func extractAccessToken(c *gin.Context) (string, error) {
	authz := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:]), nil
	}

	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie, nil
	}

	return "", errors.New("missing access token")
}

func collectRoles(claims *KCClaims, clientID string) []string {
	out := make([]string, 0, 16)
	out = append(out, claims.RealmAccess.Roles...)

	if clientID != "" && claims.ResourceAccess != nil {
		if ra, ok := claims.ResourceAccess[clientID]; ok {
			out = append(out, ra.Roles...)
		}
	}

	return uniq(out)
}

func hasAnyRole(userRoles []string, anyOf ...string) bool {
	roleSet := make(map[string]struct{}, len(userRoles))
	for _, r := range userRoles {
		roleSet[r] = struct{}{}
	}
	for _, required := range anyOf {
		if _, ok := roleSet[required]; ok {
			return true
		}
	}
	return false
}

func uniq(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
