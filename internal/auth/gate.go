package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Config describes the pre-proxy gate. The gate runs before any traffic
// reaches the supervised backend; backend-side token checks are satisfied
// separately by the proxy's header inversion.
type Config struct {
	Enabled  bool     `json:"enabled" mapstructure:"enabled"`
	Username string   `json:"username" mapstructure:"username"`
	Password string   `json:"password" mapstructure:"password"`
	Tokens   []string `json:"tokens" mapstructure:"tokens"` // admin bearer tokens
}

// Gate authenticates inbound requests with either a bearer token or Basic
// credentials. All comparisons are constant time.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Enabled reports whether the gate rejects unauthenticated requests.
func (g *Gate) Enabled() bool { return g.cfg.Enabled }

// Allow reports whether the request carries valid credentials.
func (g *Gate) Allow(r *http.Request) bool {
	if !g.cfg.Enabled {
		return true
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && g.tokenValid(parts[1]) {
			return true
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		return g.basicValid(user, pass)
	}
	return false
}

func (g *Gate) tokenValid(token string) bool {
	ok := false
	for _, t := range g.cfg.Tokens {
		if t != "" && subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			ok = true
		}
	}
	return ok
}

func (g *Gate) basicValid(user, pass string) bool {
	if g.cfg.Username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(g.cfg.Username), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(g.cfg.Password), []byte(pass)) == 1
	return userOK && passOK
}

// GinAuth returns a Gin middleware enforcing the gate.
func (g *Gate) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Allow(c.Request) {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", `Basic realm="gatewarden"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": "Authentication required",
		})
		c.Abort()
	}
}

// HTTPAuth returns a standard HTTP middleware enforcing the gate, for the
// proxy and bridge paths that sit outside the Gin router.
func (g *Gate) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Allow(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="gatewarden"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"Authentication required"}`))
	})
}
