// Package web embeds the browser client (dist/) and serves it.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// reservedPrefixes are server routes that must never fall back to the client
// page, so a mistyped API call gets a 404 instead of HTML.
var reservedPrefixes = []string{"/api/", "/ws/"}

// ClientHandler serves the embedded focus client. Unknown paths outside the
// API fall back to index.html. The page asks for the camera, so every
// response grants camera access to this origin only.
func ClientHandler() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to open embedded client: " + err.Error())
	}
	return clientHandler(sub)
}

func clientHandler(files fs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				http.NotFound(w, r)
				return
			}
		}

		w.Header().Set("Permissions-Policy", "camera=(self)")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || name == indexFile {
			serveIndex(w, r, files)
			return
		}
		if st, err := fs.Stat(files, name); err != nil || st.IsDir() {
			serveIndex(w, r, files)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		http.ServeFileFS(w, r, files, name)
	})
}

// serveIndex writes the client page. It is never cached so a new build
// reaches open tabs on reload.
func serveIndex(w http.ResponseWriter, r *http.Request, files fs.FS) {
	page, err := fs.ReadFile(files, indexFile)
	if err != nil {
		http.Error(w, "client not built", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}
