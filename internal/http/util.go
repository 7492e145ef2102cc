package httpx

import (
	"net/http"
	"strconv"
	"strings"
)

// ParseLimitOffset reads ?limit= and ?offset=. Missing or malformed values fall back to
// defLimit and 0; limit is clamped to [1, maxLimit] and offset to >= 0.
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	q := r.URL.Query()
	lim := queryInt(q.Get("limit"), defLimit)
	off := queryInt(q.Get("offset"), 0)
	return min(max(lim, 1), max(maxLimit, 1)), max(off, 0)
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
