package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor/artifact"
)

// ArtifactHandler serves interactive documents by reference, together
// with the dependency folder a document refers to by relative URL.
//
// WHY NOT http.FileServer?
// The artifact root also holds plot files mid-execution. Only paths
// matching artifact.DocumentPattern or artifact.DependencyPattern are
// served; everything else is a 404, and directories are never listed.
type ArtifactHandler struct {
	root   string
	logger *slog.Logger
}

// NewArtifactHandler creates a handler serving documents below root.
func NewArtifactHandler(root string, logger *slog.Logger) *ArtifactHandler {
	return &ArtifactHandler{root: root, logger: logger}
}

// ServeHTTP handles GET /artifacts/*.
func (h *ArtifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" {
		name = strings.TrimPrefix(r.URL.Path, "/")
	}

	// path.Clean on a rooted path cannot climb above "/".
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	document, _ := doublestar.Match(artifact.DocumentPattern, clean)
	dependency, _ := doublestar.Match(artifact.DependencyPattern, clean)
	if !document && !dependency {
		writeError(w, apperror.NotFound("artifact", name))
		return
	}

	full := filepath.Join(h.root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, apperror.NotFound("artifact", name))
		return
	}

	h.logger.Debug("serving artifact", slog.String("path", clean), slog.Bool("dependency", dependency))

	// Documents are swept on the session's next execution; a cached copy
	// would outlive the file.
	w.Header().Set("Cache-Control", "no-store")
	if document {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	// Dependencies get their type from the extension.
	http.ServeFile(w, r, full)
}
