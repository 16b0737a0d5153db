package testserver

import (
	"net/http"
	"runtime"
)

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/tether/internal/testserver.Version=v1.0.0"
var (
	Version = "dev"
	BuiltAt = "unknown"
)

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"go_version": runtime.Version(),
		"built_at":   BuiltAt,
	})
}
