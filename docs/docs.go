// Package docs registers the OpenAPI description served under /swagger/.
// Keep it in step with the @Router annotations of internal/api/handler.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Login",
                "parameters": [
                    {
                        "description": "Login credentials",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.loginRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.authResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "429": {"description": "Too Many Requests", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["auth"],
                "summary": "Logout",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/auth/password-reset": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Send a password reset email",
                "parameters": [
                    {
                        "description": "Account email",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.resetRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handler.messageResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/auth/password-reset/confirm": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Set a new password with a reset code",
                "parameters": [
                    {
                        "description": "Reset code and new password",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.confirmResetRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.messageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/auth/signup": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Create an account",
                "parameters": [
                    {
                        "description": "Sign-up form",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.signUpRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.authResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/links": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["shell"],
                "summary": "Open a deep link",
                "parameters": [
                    {
                        "description": "Activation URL",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.openLinkRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DeepLinkAction"}}
                }
            }
        },
        "/nav": {
            "get": {
                "produces": ["application/json"],
                "tags": ["shell"],
                "summary": "Current navigation stack",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.navResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["shell"],
                "summary": "Push a screen by linking path",
                "parameters": [
                    {
                        "description": "Linking path",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.navigateRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.navResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/session": {
            "get": {
                "produces": ["application/json"],
                "tags": ["shell"],
                "summary": "Current session",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.sessionResponse"}}
                }
            }
        },
        "/v1/journals": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["journals"],
                "summary": "List journals",
                "parameters": [
                    {"type": "string", "description": "Title filter", "name": "q", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.journalListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["journals"],
                "summary": "Create a journal",
                "parameters": [
                    {
                        "description": "Title and body",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.journalRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.messageResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/v1/journals/stream": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["text/event-stream"],
                "tags": ["journals"],
                "summary": "Stream journal projections",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/journals/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["journals"],
                "summary": "Get a journal",
                "parameters": [
                    {"type": "string", "description": "Journal ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Record"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["journals"],
                "summary": "Update a journal",
                "parameters": [
                    {"type": "string", "description": "Journal ID", "name": "id", "in": "path", "required": true},
                    {
                        "description": "Title and body",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.journalRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.messageResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "422": {"description": "Unprocessable Entity", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["journals"],
                "summary": "Delete a journal",
                "parameters": [
                    {"type": "string", "description": "Journal ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        }
    },
    "definitions": {
        "domain.DeepLinkAction": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "kind": {"type": "string"},
                "mode": {"type": "string"}
            }
        },
        "domain.Identity": {
            "type": "object",
            "properties": {
                "display_name": {"type": "string"},
                "email": {"type": "string"},
                "uid": {"type": "string"}
            }
        },
        "domain.Record": {
            "type": "object",
            "properties": {
                "body": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "title": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.RouteEntry": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "params": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "domain.SessionState": {
            "type": "object",
            "properties": {
                "initializing": {"type": "boolean"},
                "status": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "handler.authResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "user": {"$ref": "#/definitions/domain.Identity"}
            }
        },
        "handler.confirmResetRequest": {
            "type": "object",
            "properties": {
                "new_password": {"type": "string"},
                "oob_code": {"type": "string"}
            }
        },
        "handler.journalListResponse": {
            "type": "object",
            "properties": {
                "records": {"type": "array", "items": {"$ref": "#/definitions/domain.Record"}},
                "seq": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "handler.journalRequest": {
            "type": "object",
            "properties": {
                "body": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "handler.loginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "handler.messageResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "handler.navResponse": {
            "type": "object",
            "properties": {
                "current": {"$ref": "#/definitions/domain.RouteEntry"},
                "routes": {"type": "array", "items": {"$ref": "#/definitions/domain.RouteEntry"}}
            }
        },
        "handler.navigateRequest": {
            "type": "object",
            "required": ["path"],
            "properties": {
                "params": {"type": "object", "additionalProperties": {"type": "string"}},
                "path": {"type": "string"}
            }
        },
        "handler.openLinkRequest": {
            "type": "object",
            "required": ["url"],
            "properties": {
                "url": {"type": "string"}
            }
        },
        "handler.resetRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"}
            }
        },
        "handler.sessionResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/domain.SessionState"},
                "user": {"$ref": "#/definitions/domain.Identity"}
            }
        },
        "handler.signUpRequest": {
            "type": "object",
            "properties": {
                "confirm_password": {"type": "string"},
                "education": {"type": "string"},
                "email": {"type": "string"},
                "first_name": {"type": "string"},
                "gender": {"type": "string"},
                "interest": {"type": "string"},
                "last_name": {"type": "string"},
                "password": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Companion API",
	Description:      "Session, navigation and journal sync for the companion app.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
