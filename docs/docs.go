package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "description": "REST API for the portscope TCP port scanner.",
    "title": "portscope API",
    "license": {
      "name": "MIT",
      "url": "https://opensource.org/licenses/MIT"
    },
    "version": "1.0"
  },
  "host": "localhost:8080",
  "basePath": "/api/v1",
  "schemes": [
    "http"
  ],
  "paths": {
    "/scans": {
      "post": {
        "consumes": [
          "application/json"
        ],
        "produces": [
          "application/json"
        ],
        "summary": "Start a new scan",
        "description": "Validates the request synchronously and starts scanning in the background. The requested worker count is clamped to twice the number of server cores.",
        "operationId": "createScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "description": "Scan request parameters",
            "name": "scanRequest",
            "in": "body",
            "required": true,
            "schema": {
              "$ref": "#/definitions/CreateScanRequest"
            }
          }
        ],
        "responses": {
          "202": {
            "description": "Scan accepted",
            "schema": {
              "$ref": "#/definitions/ScanAcceptedResponse"
            }
          },
          "400": {
            "description": "Malformed JSON or invalid host, ports, workers or timeout",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "429": {
            "description": "Rate limit exceeded",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "503": {
            "description": "Server is shutting down",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    },
    "/scans/{id}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Get scan status",
        "description": "Returns a live snapshot. Pass next_log_index from the previous response as logs_index to receive only new log entries.",
        "operationId": "getScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "type": "string",
            "format": "uuid",
            "description": "Scan ID (UUID v4)",
            "name": "id",
            "in": "path",
            "required": true
          },
          {
            "type": "integer",
            "description": "Index of the first log entry to return",
            "name": "logs_index",
            "in": "query"
          }
        ],
        "responses": {
          "200": {
            "description": "OK",
            "schema": {
              "$ref": "#/definitions/scanner.Snapshot"
            }
          },
          "400": {
            "description": "Malformed scan id or logs_index",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "404": {
            "description": "Unknown or evicted scan",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    },
    "/scans/{id}/stop": {
      "post": {
        "produces": [
          "application/json"
        ],
        "summary": "Stop a scan",
        "description": "Requests cooperative cancellation. Repeated or late requests are acknowledged without effect.",
        "operationId": "stopScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "type": "string",
            "format": "uuid",
            "description": "Scan ID (UUID v4)",
            "name": "id",
            "in": "path",
            "required": true
          }
        ],
        "responses": {
          "200": {
            "description": "OK",
            "schema": {
              "$ref": "#/definitions/StopResponse"
            }
          },
          "400": {
            "description": "Malformed scan id",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "404": {
            "description": "Unknown or evicted scan",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    },
    "/history/{id}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Get an archived scan",
        "description": "Returns the final snapshot of a finished scan from the history archive.",
        "operationId": "getHistory",
        "tags": [
          "History"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "type": "string",
            "format": "uuid",
            "description": "Scan ID (UUID v4)",
            "name": "id",
            "in": "path",
            "required": true
          }
        ],
        "responses": {
          "200": {
            "description": "OK",
            "schema": {
              "$ref": "#/definitions/ArchivedScan"
            }
          },
          "400": {
            "description": "Malformed scan id",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "404": {
            "description": "Scan not archived or expired",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "503": {
            "description": "History archive not configured",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    }
  },
  "securityDefinitions": {
    "ApiKeyAuth": {
      "type": "apiKey",
      "name": "Authorization",
      "in": "header"
    }
  },
  "definitions": {
    "CreateScanRequest": {
      "type": "object",
      "required": [
        "host",
        "ports"
      ],
      "properties": {
        "host": {
          "type": "string",
          "example": "scanme.nmap.org"
        },
        "ports": {
          "type": "string",
          "example": "22,80,443,8000-8100"
        },
        "workers": {
          "type": "integer",
          "example": 50
        },
        "timeout": {
          "type": "number",
          "example": 1.5
        }
      }
    },
    "ScanAcceptedResponse": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid",
          "example": "a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"
        },
        "status": {
          "type": "string",
          "enum": [
            "pending",
            "running"
          ],
          "example": "pending"
        }
      }
    },
    "StopResponse": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "acknowledged": {
          "type": "boolean",
          "example": true
        },
        "status": {
          "type": "string",
          "enum": [
            "pending",
            "running",
            "completed",
            "failed",
            "stopped"
          ]
        }
      }
    },
    "ArchivedScan": {
      "type": "object",
      "properties": {
        "snapshot": {
          "$ref": "#/definitions/scanner.Snapshot"
        },
        "archived_at": {
          "type": "string",
          "format": "date-time"
        }
      }
    },
    "HealthResponse": {
      "type": "object",
      "properties": {
        "status": {
          "type": "string",
          "example": "ok"
        },
        "archive": {
          "type": "string",
          "enum": [
            "enabled",
            "disabled",
            "unavailable"
          ]
        },
        "jobs": {
          "type": "integer",
          "example": 3
        }
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {
          "type": "string",
          "example": "scan not found"
        },
        "field": {
          "type": "string",
          "example": "ports"
        }
      }
    },
    "scanner.Snapshot": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "state": {
          "type": "string",
          "enum": [
            "pending",
            "running",
            "completed",
            "failed",
            "stopped"
          ]
        },
        "host": {
          "type": "string"
        },
        "ports": {
          "type": "string"
        },
        "progress_percent": {
          "type": "integer",
          "minimum": 0,
          "maximum": 100
        },
        "probed": {
          "type": "integer"
        },
        "total": {
          "type": "integer"
        },
        "closed": {
          "type": "integer"
        },
        "filtered": {
          "type": "integer"
        },
        "logs": {
          "type": "array",
          "items": {
            "$ref": "#/definitions/scanner.LogEntry"
          }
        },
        "next_log_index": {
          "type": "integer"
        },
        "results": {
          "type": "array",
          "items": {
            "$ref": "#/definitions/scanner.PortResult"
          }
        },
        "effective_workers": {
          "type": "integer"
        },
        "requested_workers": {
          "type": "integer"
        },
        "system_cores": {
          "type": "integer"
        },
        "max_recommended_workers": {
          "type": "integer"
        },
        "started_at": {
          "type": "string",
          "format": "date-time"
        },
        "finished_at": {
          "type": "string",
          "format": "date-time"
        },
        "duration_seconds": {
          "type": "number"
        }
      }
    },
    "scanner.LogEntry": {
      "type": "object",
      "properties": {
        "index": {
          "type": "integer"
        },
        "timestamp": {
          "type": "string",
          "format": "date-time"
        },
        "message": {
          "type": "string",
          "example": "Port 22 is open: SSH (9.6)"
        },
        "level": {
          "type": "string",
          "enum": [
            "info",
            "success",
            "warning",
            "error"
          ]
        }
      }
    },
    "scanner.PortResult": {
      "type": "object",
      "properties": {
        "port": {
          "type": "integer",
          "example": 22
        },
        "service": {
          "type": "string",
          "example": "SSH"
        },
        "version": {
          "type": "string",
          "example": "9.6"
        },
        "server": {
          "type": "string",
          "example": "OpenSSH"
        },
        "banner": {
          "type": "string",
          "example": "SSH-2.0-OpenSSH_9.6"
        },
        "evidence": {
          "type": "string",
          "enum": [
            "none",
            "port",
            "banner",
            "probe-db"
          ]
        },
        "tls": {
          "$ref": "#/definitions/scanner.TLSInfo"
        }
      }
    },
    "scanner.TLSInfo": {
      "type": "object",
      "properties": {
        "version": {
          "type": "string",
          "example": "TLS 1.3"
        },
        "cipher_suite": {
          "type": "string",
          "example": "TLS_AES_128_GCM_SHA256"
        },
        "certificate": {
          "$ref": "#/definitions/scanner.Certificate"
        },
        "server": {
          "type": "string"
        }
      }
    },
    "scanner.Certificate": {
      "type": "object",
      "properties": {
        "subject": {
          "type": "string"
        },
        "issuer": {
          "type": "string"
        },
        "subject_dn": {
          "type": "string"
        },
        "issuer_dn": {
          "type": "string"
        },
        "not_before": {
          "type": "string",
          "format": "date-time"
        },
        "not_after": {
          "type": "string",
          "format": "date-time"
        },
        "serial_number": {
          "type": "string"
        },
        "serial_hex": {
          "type": "string",
          "example": "1F:2E:3D"
        },
        "signature_algorithm": {
          "type": "string"
        },
        "version": {
          "type": "integer"
        },
        "dns_names": {
          "type": "array",
          "items": {
            "type": "string"
          }
        },
        "self_signed": {
          "type": "boolean"
        }
      }
    }
  }
}
`

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}
