// Package waterwatch embeds the web assets of the water-quality assistant.
package waterwatch

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the web interface. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the stylesheet and the script that applies streamed updates in the browser.
//
//go:embed static/*
var StaticFS embed.FS
