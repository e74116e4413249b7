package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// avatarExts are the image formats the decrypt tool emits
// alongside the message dumps, in lookup order.
var avatarExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// handleAvatar serves a contact avatar from the account's
// avatars directory. Winners link here via AvatarURL.
func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	username := r.PathValue("username")
	if !safePathSegment(account) || !safePathSegment(username) {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	dir := filepath.Join(s.mgr.AccountDir(account), "avatars")
	for _, ext := range avatarExts {
		path := filepath.Join(dir, username+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			http.ServeFile(w, r, path)
			return
		}
	}
	writeError(w, http.StatusNotFound, "avatar not found")
}

// safePathSegment rejects values that could escape the account
// directory when joined into a filesystem path.
func safePathSegment(v string) bool {
	if v == "" || v == "." || v == ".." {
		return false
	}
	return !strings.ContainsAny(v, "/\\")
}
