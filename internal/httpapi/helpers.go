package httpapi

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/tenxso/feedd/api"
	"github.com/tenxso/feedd/internal/identity"
	"github.com/tenxso/feedd/internal/metadata"
)

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func postToAPI(p metadata.Post) api.Post {
	return api.Post{
		PostID:           p.ID,
		AuthorID:         p.AuthorID,
		AuthorUsername:   p.AuthorName,
		AuthorProfilePic: p.AuthorPicURL,
		MediaURL:         p.MediaURL,
		Caption:          p.Caption,
		DateCreated:      p.CreatedAt,
	}
}

func postsToAPI(posts []metadata.Post) []api.Post {
	out := make([]api.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, postToAPI(p))
	}
	return out
}

// sanitizeObjectName strips any path components a client smuggled into a file
// name.
func sanitizeObjectName(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// uniqueObjectName appends a short random id to the file name so concurrent
// uploads of the same file never clobber each other.
func uniqueObjectName(fileName string) string {
	base := sanitizeObjectName(fileName)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "-" + identity.ShortID(6) + ext
}

func formInt(r *http.Request, field string) (int, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return 0, httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: field + " is required"}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: field + " must be an integer"}
	}
	return n, nil
}

func queryInt(r *http.Request, field string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(field))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
