package chatwidget

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the widget. These templates are
// organized in a directory structure that separates layouts, pages, and partial views; the partials are
// also what the SSE bridge pushes to the page.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the widget script and stylesheet.
//
//go:embed static/*
var StaticFS embed.FS
