package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Admission Portal API",
        "description": "Application and document lifecycle for the admissions portal",
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
        {"name": "Auth", "description": "Registration and sessions"},
        {"name": "Profile", "description": "Candidate profile sections and locking"},
        {"name": "Courses", "description": "Applied courses, payments and appointments"},
        {"name": "Documents", "description": "Document uploads and verification"},
        {"name": "Slots", "description": "Appointment slot catalogue"},
        {"name": "Admin", "description": "Staff management and request queue"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Register candidate",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Account inactive", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current account",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}": {
            "get": {
                "tags": ["Profile"],
                "summary": "Read account aggregate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/profile/{section}": {
            "put": {
                "tags": ["Profile"],
                "summary": "Update profile section",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateProfileSectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Profile locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/profile/lock": {
            "post": {
                "tags": ["Profile"],
                "summary": "Lock profile with declaration",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LockProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Profile incomplete or declaration missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/profile/unlock": {
            "post": {
                "tags": ["Profile"],
                "summary": "Unlock profile",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses": {
            "post": {
                "tags": ["Courses"],
                "summary": "Apply for course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyCourseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate application", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Profile locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}": {
            "delete": {
                "tags": ["Courses"],
                "summary": "Withdraw application",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Not deletable in current state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/payment-order": {
            "post": {
                "tags": ["Courses"],
                "summary": "Create payment order",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/payment": {
            "post": {
                "tags": ["Courses"],
                "summary": "Record payment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/receipt": {
            "get": {
                "tags": ["Courses"],
                "summary": "Download payment receipt",
                "produces": ["application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF receipt"},
                    "402": {"description": "Payment required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/appointment": {
            "post": {
                "tags": ["Courses"],
                "summary": "Book appointment and submit documents",
                "consumes": ["application/json", "multipart/form-data"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "slot", "in": "formData", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "402": {"description": "Payment required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/status": {
            "patch": {
                "tags": ["Courses"],
                "summary": "Update application status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateCourseStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or stale revision", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/documents": {
            "post": {
                "tags": ["Documents"],
                "summary": "Upload document",
                "consumes": ["multipart/form-data"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "label", "in": "formData", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/documents/{documentId}/status": {
            "patch": {
                "tags": ["Documents"],
                "summary": "Verify or reject document",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "documentId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateDocumentStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts/{accountId}/courses/{courseId}/documents/{documentId}/link": {
            "get": {
                "tags": ["Documents"],
                "summary": "Signed download link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "accountId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "documentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/files/{token}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Download document by signed token",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File content"},
                    "401": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots": {
            "get": {
                "tags": ["Slots"],
                "summary": "List appointment slots",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "published", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/slots/publish": {
            "post": {
                "tags": ["Slots"],
                "summary": "Publish slot",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/slots/unpublish": {
            "post": {
                "tags": ["Slots"],
                "summary": "Unpublish slot",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/dashboard": {
            "get": {
                "tags": ["Admin"],
                "summary": "Dashboard counters",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/requests": {
            "get": {
                "tags": ["Admin"],
                "summary": "List application requests",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/requests/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export application requests as CSV",
                "produces": ["text/csv"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV file"}
                }
            }
        },
        "/admin/staff": {
            "post": {
                "tags": ["Admin"],
                "summary": "Create staff account",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStaffRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/staff/{staffId}/permissions": {
            "put": {
                "tags": ["Admin"],
                "summary": "Replace staff permissions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "staffId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePermissionsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/audit-logs": {
            "get": {
                "tags": ["Admin"],
                "summary": "List audit logs",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "resource", "in": "query", "type": "string"},
                    {"name": "resourceId", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "full_name"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "UpdateProfileSectionRequest": {
            "type": "object",
            "required": ["data"],
            "properties": {
                "data": {"type": "object"}
            }
        },
        "LockProfileRequest": {
            "type": "object",
            "properties": {
                "declaration": {"type": "boolean"}
            }
        },
        "ApplyCourseRequest": {
            "type": "object",
            "required": ["courseType", "courseCategory", "courseYear"],
            "properties": {
                "courseType": {"type": "string"},
                "courseCategory": {"type": "string"},
                "courseYear": {"type": "string"}
            }
        },
        "RecordPaymentRequest": {
            "type": "object",
            "required": ["reference"],
            "properties": {
                "reference": {"type": "string"},
                "orderId": {"type": "string"}
            }
        },
        "UpdateCourseStatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["Pending", "Appointment Booked", "Verified", "Rejected", "Refill Required"]},
                "expectedRevision": {"type": "integer"}
            }
        },
        "UpdateDocumentStatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["Pending", "Verified", "Rejected", "Refill Required"]}
            }
        },
        "SlotRequest": {
            "type": "object",
            "required": ["date", "label"],
            "properties": {
                "date": {"type": "string", "format": "date"},
                "label": {"type": "string"}
            }
        },
        "CreateStaffRequest": {
            "type": "object",
            "required": ["email", "fullName", "password"],
            "properties": {
                "email": {"type": "string"},
                "fullName": {"type": "string"},
                "password": {"type": "string"},
                "permissions": {"type": "object", "additionalProperties": {"type": "boolean"}}
            }
        },
        "UpdatePermissionsRequest": {
            "type": "object",
            "required": ["permissions"],
            "properties": {
                "permissions": {"type": "object", "additionalProperties": {"type": "boolean"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
