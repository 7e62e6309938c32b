package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Secure Login API",
        "description": "Account registration, lockout-protected login and rotating refresh-token sessions.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Credential sessions delivered as HttpOnly cookies"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"allOf": [{"$ref": "#/definitions/ResponseEnvelope"}, {"type": "object", "properties": {"data": {"$ref": "#/definitions/RegisterResponse"}}}]}},
                    "400": {"description": "Missing field or duplicate email", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate account",
                "description": "Sets access_token (15m) and refresh_token (30d) cookies.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"allOf": [{"$ref": "#/definitions/ResponseEnvelope"}, {"type": "object", "properties": {"data": {"$ref": "#/definitions/SessionResponse"}}}]}},
                    "400": {"description": "Missing field", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Account locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate refresh token",
                "description": "Reads the refresh_token cookie, or refresh_token in the body when no cookie is sent.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"allOf": [{"$ref": "#/definitions/ResponseEnvelope"}, {"type": "object", "properties": {"data": {"$ref": "#/definitions/SessionResponse"}}}]}},
                    "401": {"description": "Invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "description": "Revokes the refresh token and clears both cookies. Always succeeds.",
                "responses": {
                    "200": {"description": "OK", "schema": {"allOf": [{"$ref": "#/definitions/ResponseEnvelope"}, {"type": "object", "properties": {"data": {"$ref": "#/definitions/StatusResponse"}}}]}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current account",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"allOf": [{"$ref": "#/definitions/ResponseEnvelope"}, {"type": "object", "properties": {"data": {"$ref": "#/definitions/AccountInfo"}}}]}},
                    "401": {"description": "Missing or invalid access token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Credentials": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RefreshRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "AccountInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"}
            }
        },
        "RegisterResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "account": {"$ref": "#/definitions/AccountInfo"}
            }
        },
        "SessionResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "account_id": {"type": "string"},
                "access_expires_at": {"type": "string", "format": "date-time"},
                "refresh_expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "StatusResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
