package main

// General API documentation for swaggo. Regenerate the docs package with
// `swag init -g cmd/inferd/docs.go`.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for local LLM session management and inference.
//
// @contact.name   inferd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
