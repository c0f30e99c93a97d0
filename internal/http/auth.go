package httpx

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/splax/instantiate/pkg/crypto"
	"github.com/splax/instantiate/pkg/jwt"
)

// keyAllowList accepts project keys given in clear or as bcrypt hashes.
type keyAllowList struct {
	plain   map[string]struct{}
	hashes  []string
	matched sync.Map
}

func newKeyAllowList(keys []string) *keyAllowList {
	list := &keyAllowList{plain: make(map[string]struct{})}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		switch {
		case key == "":
		case crypto.IsHash(key):
			list.hashes = append(list.hashes, key)
		default:
			list.plain[key] = struct{}{}
		}
	}
	if len(list.plain) == 0 && len(list.hashes) == 0 {
		return nil
	}
	return list
}

// allows reports whether key is listed. Hash matches are cached.
func (l *keyAllowList) allows(key string) bool {
	if _, ok := l.plain[key]; ok {
		return true
	}
	if _, ok := l.matched.Load(key); ok {
		return true
	}
	for _, hash := range l.hashes {
		if crypto.CompareKey(hash, key) {
			l.matched.Store(key, struct{}{})
			return true
		}
	}
	return false
}

// requireToken guards read endpoints with a bearer JWT when a secret is configured.
// Tokens scoped to a project only see that project.
func (r *Router) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.JWTSecret == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req)
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.cfg.JWTSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if claims.ProjectID != "" {
			query := req.URL.Query()
			if requested := query.Get("project_id"); requested != "" && requested != claims.ProjectID {
				writeError(w, http.StatusForbidden, "token not valid for project")
				return
			}
			query.Set("project_id", claims.ProjectID)
			req.URL.RawQuery = query.Encode()
		}
		next(w, req)
	}
}

// bearerToken reads the Authorization header, or the access_token query
// parameter for browser websockets.
func bearerToken(req *http.Request) (string, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" {
		if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
