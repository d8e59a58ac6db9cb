package httpserver

import "net/http"

func (s *httpServer) serveOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openAPISpec))
}

const openAPISpec = `{
  "openapi": "3.0.3",
  "info": {
    "title": "stresslab control API",
    "version": "1.0.0",
    "description": "Lifecycle, worker, pool, drain, budget, and health operations for the fixed-ratio pool stress harness."
  },
  "paths": {
    "/api/lifecycle/start": {"post": {"summary": "Start the harness", "responses": {"200": {"description": "Started"}, "409": {"description": "Invalid transition"}}}},
    "/api/lifecycle/stop": {"post": {"summary": "Stop the harness", "responses": {"200": {"description": "Stopped"}}}},
    "/api/lifecycle/pause": {"post": {"summary": "Pause all running workers", "responses": {"200": {"description": "Paused"}, "409": {"description": "Invalid transition"}}}},
    "/api/lifecycle/resume": {"post": {"summary": "Resume paused workers", "responses": {"200": {"description": "Resumed"}, "409": {"description": "Invalid transition"}}}},
    "/api/health": {"get": {"summary": "Service and engine health", "responses": {"200": {"description": "Healthy"}, "503": {"description": "Unhealthy or degraded"}}}},
    "/api/workers": {
      "get": {"summary": "List workers", "responses": {"200": {"description": "Worker list"}}},
      "post": {
        "summary": "Create a worker",
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/WorkerRequest"}}}},
        "responses": {"201": {"description": "Created"}, "400": {"description": "Invalid specification"}}
      }
    },
    "/api/workers/{id}": {
      "get": {"summary": "Worker detail with statistics", "responses": {"200": {"description": "Detail"}, "404": {"description": "Unknown worker"}}},
      "delete": {
        "summary": "Delete a worker, optionally draining its wallet first",
        "parameters": [{"name": "drain", "in": "query", "schema": {"type": "boolean"}}],
        "responses": {"200": {"description": "Removed"}, "404": {"description": "Unknown worker"}}
      }
    },
    "/api/workers/{id}/start": {"post": {"summary": "Start the worker loop", "responses": {"200": {"description": "Running"}, "409": {"description": "Already running"}}}},
    "/api/workers/{id}/stop": {"post": {"summary": "Stop the worker loop", "responses": {"200": {"description": "Stopped"}, "409": {"description": "Not running"}}}},
    "/api/workers/{id}/drain": {"post": {"summary": "Run the burn-first drain protocol", "responses": {"200": {"description": "Drain result"}, "409": {"description": "Worker still running"}, "503": {"description": "Drain pool at capacity"}}}},
    "/api/workers/{id}/errors": {"get": {"summary": "Recorded operation errors", "responses": {"200": {"description": "Error records"}}}},
    "/api/pools": {
      "get": {"summary": "List registered pools", "responses": {"200": {"description": "Canonical pool configurations"}}},
      "post": {
        "summary": "Normalize and register a pool ratio configuration",
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/PoolRequest"}}}},
        "responses": {"201": {"description": "Canonical configuration"}, "400": {"description": "Invalid ratios"}}
      }
    },
    "/api/budget": {
      "get": {
        "summary": "Compute-unit budget for an operation",
        "parameters": [
          {"name": "operation", "in": "query", "required": true, "schema": {"type": "string"}},
          {"name": "poolCount", "in": "query", "schema": {"type": "integer"}},
          {"name": "donationAmount", "in": "query", "schema": {"type": "integer"}}
        ],
        "responses": {"200": {"description": "Budget units"}}
      }
    }
  },
  "components": {
    "schemas": {
      "WorkerRequest": {
        "type": "object",
        "required": ["kind", "pool", "amount"],
        "properties": {
          "kind": {"type": "string", "enum": ["deposit", "withdrawal", "swap"]},
          "pool": {"type": "string"},
          "tokenSide": {"type": "string", "enum": ["a", "b"]},
          "direction": {"type": "string", "enum": ["a_to_b", "b_to_a"]},
          "amount": {"type": "integer"},
          "initialFunding": {"type": "integer"},
          "autoRefill": {"type": "boolean"},
          "shareOutput": {"type": "boolean"},
          "autoStart": {"type": "boolean"}
        }
      },
      "PoolRequest": {
        "type": "object",
        "required": ["tokenA", "tokenB", "ratioA", "ratioB"],
        "properties": {
          "tokenA": {"type": "string"},
          "tokenB": {"type": "string"},
          "ratioA": {"type": "integer"},
          "ratioB": {"type": "integer"},
          "decimalsA": {"type": "integer"},
          "decimalsB": {"type": "integer"}
        }
      }
    }
  }
}`
