package api

import (
	"net/http"

	"github.com/skeema/dbctl/internal/dialect"
)

// openapiDoc is a minimal, hand-built OpenAPI 3.0 document covering the
// routes in spec.md §6, marshaled from Go structs rather than loaded from a
// YAML/JSON file on disk, mirroring the original's api/openapi.rs.
func (s *Server) openapiJSON(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "dbctl",
			"version": "1.0.0",
		},
		"paths": map[string]interface{}{
			"/db/new": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Create or resolve a logical database instance",
					"requestBody": map[string]interface{}{
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"dialect": map[string]interface{}{
											"type": "string",
											"enum": dialect.Supported(),
										},
										"db_id": map[string]interface{}{"type": "string"},
									},
									"required": []string{"dialect"},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "instance ready"},
						"400": map[string]interface{}{"description": "DIALECT_UNSUPPORTED"},
						"409": map[string]interface{}{"description": "RESTORE_IN_PROGRESS"},
					},
				},
			},
			"/db/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Get instance status",
					"responses": map[string]interface{}{"200": map[string]interface{}{"description": "status record"}, "404": map[string]interface{}{"description": "DB_NOT_FOUND"}},
				},
				"delete": map[string]interface{}{
					"summary":   "Destroy an instance",
					"responses": map[string]interface{}{"200": map[string]interface{}{"description": "destroyed"}, "404": map[string]interface{}{"description": "DB_NOT_FOUND"}},
				},
			},
			"/db/{id}/query": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Execute a SQL query against an instance",
					"requestBody": map[string]interface{}{
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"query":     map[string]interface{}{"type": "string"},
										"format":    map[string]interface{}{"type": "string", "enum": []string{"text", "json", "jsonl"}},
										"transport": map[string]interface{}{"type": "string", "enum": []string{"sse"}},
									},
									"required": []string{"query"},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "query result (json, text, or SSE per format/transport)"},
						"404": map[string]interface{}{"description": "DB_NOT_FOUND"},
						"408": map[string]interface{}{"description": "QUERY_TIMEOUT"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Liveness and Docker connectivity probe",
					"responses": map[string]interface{}{"200": map[string]interface{}{"description": "{status, docker}"}},
				},
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

// docs serves a minimal Swagger UI shell loading /openapi.json from the
// jsdelivr CDN, mirroring the original's api/openapi.rs swagger_ui().
const swaggerHTML = `<!DOCTYPE html>
<html>
<head>
  <title>dbctl API docs</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => {
      SwaggerUIBundle({ url: "/openapi.json", dom_id: "#swagger-ui" });
    };
  </script>
</body>
</html>`

func (s *Server) docs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(swaggerHTML))
}
