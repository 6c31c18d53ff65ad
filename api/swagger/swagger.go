package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Fee API",
        "description": "School fee catalog, collection ledger and receipts",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Authentication",
            "description": "Fee office sign in"
        },
        {
            "name": "Fee Catalog",
            "description": "Fee categories and structures"
        },
        {
            "name": "Fee Assignments",
            "description": "Student obligations and overdue tracking"
        },
        {
            "name": "Fee Collections",
            "description": "Collection ledger, verification and receipts"
        },
        {
            "name": "Observability",
            "description": "Counters and health"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "Database unavailable"
                    }
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Authenticate fee office user",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Invalid credentials",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "No fee office access",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/LoginRequest"
                        }
                    }
                ]
            }
        },
        "/auth/me": {
            "get": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Current user",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Change password",
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ChangePasswordRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/metrics/snapshot": {
            "get": {
                "tags": [
                    "Observability"
                ],
                "summary": "Fee office counters",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/categories": {
            "get": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "List fee categories",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Create a fee category",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Duplicate name",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/FeeCategoryRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/categories/{id}": {
            "put": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Rename a fee category",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/FeeCategoryRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/structures": {
            "get": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "List fee structures",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "academicYearId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "gradeId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "categoryId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "semester",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "mandatory",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Create a fee structure",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Mandatory structure overlap",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/FeeStructureRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/structures/{id}": {
            "get": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Get a fee structure",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "put": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Update a fee structure",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Live assignments exist",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/FeeStructureRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "delete": {
                "tags": [
                    "Fee Catalog"
                ],
                "summary": "Retire a fee structure",
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "409": {
                        "description": "Live assignments exist",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/students/{studentId}/obligations": {
            "get": {
                "tags": [
                    "Fee Assignments"
                ],
                "summary": "Resolve a student's fee obligations",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Student has no enrollment",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "semester",
                        "in": "query",
                        "type": "string",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/students/{studentId}/assignments": {
            "get": {
                "tags": [
                    "Fee Assignments"
                ],
                "summary": "List a student's fee assignments",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "academicYearId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/assignments/{id}/late-fee": {
            "get": {
                "tags": [
                    "Fee Assignments"
                ],
                "summary": "Preview the late fee of an assignment",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "asOf",
                        "in": "query",
                        "type": "string",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/overdue-sweep": {
            "post": {
                "tags": [
                    "Fee Assignments"
                ],
                "summary": "Recompute overdue statuses",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "202": {
                        "description": "Queued"
                    }
                },
                "parameters": [
                    {
                        "name": "asOf",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "async",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "List fee collections",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "staffId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "paymentMode",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "verified",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    },
                    {
                        "name": "semester",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Post a fee collection",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Stale assignment",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Overpayment, underfunded bundle or no funding source",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CollectFeeRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/export.csv": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Export fee collections as CSV",
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "staffId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "paymentMode",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "verified",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    },
                    {
                        "name": "semester",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/export.pdf": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Print the fee collections register",
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "staffId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "paymentMode",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "verified",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    },
                    {
                        "name": "semester",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "from",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "to",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/{id}": {
            "patch": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Amend remarks or reference of an unverified collection",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Collection is verified",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AmendCollectionRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/{id}/verify": {
            "post": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Verify a collection",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Not an administrator",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already verified",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/{id}/receipt": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Get a collection receipt",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Receipt not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/collections/{id}/receipt.pdf": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Download a printable receipt",
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/fees/receipts/{receiptNumber}/check": {
            "get": {
                "tags": [
                    "Fee Collections"
                ],
                "summary": "Check a printed receipt code",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "receiptNumber",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "code",
                        "in": "query",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": [
                "email",
                "password"
            ],
            "properties": {
                "email": {
                    "type": "string"
                },
                "password": {
                    "type": "string"
                }
            }
        },
        "ChangePasswordRequest": {
            "type": "object",
            "required": [
                "old_password",
                "new_password"
            ],
            "properties": {
                "old_password": {
                    "type": "string"
                },
                "new_password": {
                    "type": "string",
                    "minLength": 8
                }
            }
        },
        "FeeCategoryRequest": {
            "type": "object",
            "required": [
                "name"
            ],
            "properties": {
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "FeeStructureRequest": {
            "type": "object",
            "required": [
                "fee_category_id",
                "academic_year_id",
                "semester",
                "amount"
            ],
            "properties": {
                "fee_category_id": {
                    "type": "string"
                },
                "grade_id": {
                    "type": "string"
                },
                "academic_year_id": {
                    "type": "string"
                },
                "semester": {
                    "type": "string",
                    "enum": [
                        "sem1",
                        "sem2",
                        "both"
                    ]
                },
                "amount": {
                    "type": "string",
                    "format": "decimal",
                    "example": "5000.00"
                },
                "is_mandatory": {
                    "type": "boolean"
                },
                "due_date": {
                    "type": "string",
                    "format": "date"
                },
                "late_fee_amount": {
                    "type": "string",
                    "format": "decimal",
                    "example": "5000.00"
                },
                "late_fee_days": {
                    "type": "integer"
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "PendingSelection": {
            "type": "object",
            "properties": {
                "assignment_id": {
                    "type": "string"
                },
                "optional_fee_ids": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "include_late_fee": {
                    "type": "boolean"
                },
                "expected_pending_amount": {
                    "type": "string",
                    "format": "decimal",
                    "example": "5000.00"
                }
            }
        },
        "DirectSelection": {
            "type": "object",
            "required": [
                "fee_category_id",
                "description"
            ],
            "properties": {
                "fee_category_id": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "CollectFeeRequest": {
            "type": "object",
            "required": [
                "student_id",
                "payment_mode",
                "amount"
            ],
            "properties": {
                "student_id": {
                    "type": "string"
                },
                "payment_mode": {
                    "type": "string",
                    "enum": [
                        "cash",
                        "card",
                        "online",
                        "cheque",
                        "dd",
                        "upi",
                        "bank_transfer"
                    ]
                },
                "reference_number": {
                    "type": "string"
                },
                "remarks": {
                    "type": "string"
                },
                "semester": {
                    "type": "string",
                    "enum": [
                        "sem1",
                        "sem2",
                        "both"
                    ]
                },
                "collection_date": {
                    "type": "string",
                    "format": "date"
                },
                "amount": {
                    "type": "string",
                    "format": "decimal",
                    "example": "5000.00"
                },
                "pending": {
                    "$ref": "#/definitions/PendingSelection"
                },
                "direct": {
                    "$ref": "#/definitions/DirectSelection"
                }
            }
        },
        "AmendCollectionRequest": {
            "type": "object",
            "properties": {
                "remarks": {
                    "type": "string"
                },
                "reference_number": {
                    "type": "string"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "fields": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "string"
                    }
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
