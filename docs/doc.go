// Package docs provides generated OpenAPI documentation.
//
// Scriptorium API
//
//	@title			Scriptorium API
//	@version		1.0
//	@description	Manuscript download queue: add manuscripts, control processing, and follow progress.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/scriptorium
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/scriptorium/serve.go -o ./swagger --parseDependency --parseInternal
