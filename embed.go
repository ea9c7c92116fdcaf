// Package spdash holds the dashboard's embedded web assets.
package spdash

import (
	"embed"
	"io/fs"
)

// TemplatesFS embeds the HTML templates directory.
//
//go:embed templates
var TemplatesFS embed.FS

// StaticFS embeds the static assets directory.
//
//go:embed static
var StaticFS embed.FS

// Templates returns the templates rooted at their directory.
func Templates() fs.FS {
	sub, err := fs.Sub(TemplatesFS, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Static returns the static assets rooted at their directory.
func Static() fs.FS {
	sub, err := fs.Sub(StaticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
