package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Peer Evaluation API",
        "description": "Identity resolution and peer evaluation for classroom team projects",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {
            "name": "Authentication",
            "description": "Teacher, student and guest sign-in"
        },
        {
            "name": "Join",
            "description": "Time-boxed class join links"
        },
        {
            "name": "Evaluations",
            "description": "Peer evaluations and reports"
        }
    ],
    "paths": {
        "/auth/teacher/login": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Teacher login",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/TeacherLoginRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/auth/student/login": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Student login; multi-class matches return a disambiguation",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StudentLoginRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/auth/guest/login": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Guest login with the shared class passcode",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GuestLoginRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/auth/select": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Complete a multi-class login",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SelectClassRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/auth/logout": {
            "post": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Expire the current session",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": [
                    "Authentication"
                ],
                "summary": "Current principal",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/auth/register/code": {
            "post": {
                "tags": [
                    "Registration"
                ],
                "summary": "Send a teacher registration code",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RegistrationCodeRequest"
                        }
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/auth/register": {
            "post": {
                "tags": [
                    "Registration"
                ],
                "summary": "Register a teacher",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RegisterTeacherRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/join/{token}": {
            "get": {
                "tags": [
                    "Join"
                ],
                "summary": "Join form data",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "token",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
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
                }
            },
            "post": {
                "tags": [
                    "Join"
                ],
                "summary": "Join a class through a link",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "token",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/JoinRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/classes": {
            "post": {
                "tags": [
                    "Classes"
                ],
                "summary": "Create class",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateClassRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            },
            "get": {
                "tags": [
                    "Classes"
                ],
                "summary": "List own classes",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{classId}/join-links": {
            "post": {
                "tags": [
                    "Join"
                ],
                "summary": "Issue a join link",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{classId}/teams": {
            "post": {
                "tags": [
                    "Teams"
                ],
                "summary": "Create team",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateTeamRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            },
            "get": {
                "tags": [
                    "Teams"
                ],
                "summary": "List teams",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{classId}/teams/{teamId}/members": {
            "get": {
                "tags": [
                    "Teams"
                ],
                "summary": "List team members",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "teamId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{classId}/teams/{teamId}": {
            "delete": {
                "tags": [
                    "Teams"
                ],
                "summary": "Delete team",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "teamId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        },
        "/classes/{classId}/students": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "List class students",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/classes/{classId}/students/{studentId}": {
            "delete": {
                "tags": [
                    "Students"
                ],
                "summary": "Delete student",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        },
        "/teams/{teamId}/students": {
            "post": {
                "tags": [
                    "Students"
                ],
                "summary": "Bulk add students",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "teamId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AddStudentsRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/classes/{classId}/assignments": {
            "post": {
                "tags": [
                    "Assignments"
                ],
                "summary": "Create assignment",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AssignmentRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            },
            "get": {
                "tags": [
                    "Assignments"
                ],
                "summary": "List assignments",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "classId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/assignments/{assignmentId}": {
            "put": {
                "tags": [
                    "Assignments"
                ],
                "summary": "Update assignment",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AssignmentRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            },
            "delete": {
                "tags": [
                    "Assignments"
                ],
                "summary": "Delete assignment",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        },
        "/assignments/{assignmentId}/evaluations": {
            "get": {
                "tags": [
                    "Evaluations"
                ],
                "summary": "All evaluations of an assignment",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/assignments/{assignmentId}/students/{studentId}/report": {
            "get": {
                "tags": [
                    "Evaluations"
                ],
                "summary": "Evaluations a student received",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/assignments/{assignmentId}/students/{studentId}/report/export": {
            "get": {
                "tags": [
                    "Evaluations"
                ],
                "summary": "Export a student report as csv or pdf",
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "studentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ],
                        "default": "csv"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/evaluations": {
            "post": {
                "tags": [
                    "Evaluations"
                ],
                "summary": "Submit an evaluation",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SubmitEvaluationRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "503": {
                        "description": "Temporarily unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/evaluations/exists": {
            "get": {
                "tags": [
                    "Evaluations"
                ],
                "summary": "Check for an earlier submission",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignment_id",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "team_id",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/student/teams": {
            "get": {
                "tags": [
                    "Student"
                ],
                "summary": "Teams of my class",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/student/assignments": {
            "get": {
                "tags": [
                    "Student"
                ],
                "summary": "Assignments of my class",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/student/assignments/{assignmentId}/report": {
            "get": {
                "tags": [
                    "Student"
                ],
                "summary": "My report",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "name": "assignmentId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/health": {
            "get": {
                "tags": [
                    "Observability"
                ],
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
                "tags": [
                    "Observability"
                ],
                "summary": "Ready check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        }
    },
    "definitions": {
        "TeacherLoginRequest": {
            "type": "object",
            "properties": {
                "email": {
                    "type": "string"
                },
                "password": {
                    "type": "string"
                }
            }
        },
        "StudentLoginRequest": {
            "type": "object",
            "properties": {
                "student_name": {
                    "type": "string"
                },
                "passcode": {
                    "type": "string"
                }
            }
        },
        "GuestLoginRequest": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "passcode": {
                    "type": "string"
                }
            }
        },
        "SelectClassRequest": {
            "type": "object",
            "properties": {
                "ticket": {
                    "type": "string"
                },
                "student_id": {
                    "type": "string"
                },
                "class_id": {
                    "type": "string"
                },
                "team_id": {
                    "type": "string"
                }
            }
        },
        "RegistrationCodeRequest": {
            "type": "object",
            "properties": {
                "email": {
                    "type": "string"
                }
            }
        },
        "RegisterTeacherRequest": {
            "type": "object",
            "properties": {
                "ticket": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "password": {
                    "type": "string"
                },
                "code": {
                    "type": "string"
                }
            }
        },
        "JoinRequest": {
            "type": "object",
            "properties": {
                "student_name": {
                    "type": "string"
                },
                "student_id": {
                    "type": "string"
                },
                "team_id": {
                    "type": "string"
                },
                "is_guest": {
                    "type": "boolean"
                }
            }
        },
        "CreateClassRequest": {
            "type": "object",
            "properties": {
                "class_name": {
                    "type": "string"
                }
            }
        },
        "CreateTeamRequest": {
            "type": "object",
            "properties": {
                "team_name": {
                    "type": "string"
                }
            }
        },
        "AddStudentsRequest": {
            "type": "object",
            "properties": {
                "text": {
                    "type": "string"
                }
            }
        },
        "AssignmentRequest": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "start_time": {
                    "type": "string"
                },
                "end_time": {
                    "type": "string"
                }
            }
        },
        "MemberEvaluationInput": {
            "type": "object",
            "properties": {
                "student_id": {
                    "type": "string"
                },
                "score": {
                    "type": "integer"
                },
                "comment": {
                    "type": "string"
                }
            }
        },
        "SubmitEvaluationRequest": {
            "type": "object",
            "properties": {
                "assignment_id": {
                    "type": "string"
                },
                "evaluated_team_id": {
                    "type": "string"
                },
                "team_score": {
                    "type": "integer"
                },
                "team_comment": {
                    "type": "string"
                },
                "member_evaluations": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/MemberEvaluationInput"
                    }
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
