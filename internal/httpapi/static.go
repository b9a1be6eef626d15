package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The reader UI ships inside the binary so the service is a single file.
//
//go:embed static/*
var readerUI embed.FS

func newStaticHandler() http.Handler {
	sub, err := fs.Sub(readerUI, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
