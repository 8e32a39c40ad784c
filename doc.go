// Package nimbus is an instance inventory with live consoles.
//
// # Overview
//
// Nimbus keeps a list of virtual machine instances in CouchDB and streams
// every change as an InstanceDispatch message. Consoles keep a local,
// paginated and filtered copy of the list up to date by applying those
// messages to a store.
//
// The platform consists of three main components:
//   - API Server: REST API, websocket event stream and metrics
//   - Console: the dispatch store and syncer behind nimbus watch
//   - Storage Layer: CouchDB-backed instance documents with JSON-LD markers
//
// # Architecture
//
//	┌─────────────────┐        ┌─────────────────┐
//	│  nimbus watch   │◄───────┤      NATS       │
//	│ (store, badger) │        │   (optional)    │
//	└────────┬────────┘        └────────▲────────┘
//	         │ REST + websocket         │
//	┌────────▼────────┐                 │
//	│  API Server     ├─────────────────┘
//	│  (Echo REST)    │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐
//	│  Storage Layer  │
//	│  (EVE/CouchDB)  │
//	└─────────────────┘
//
// # Dispatch Messages
//
// Every message has a type and a data payload:
//   - instance.sync      - replace the current page (instances, page, pageCount, count)
//   - instance.sync_node - replace the instance list of one node
//   - instance.traverse  - move to another page or change the page size
//   - instance.filter    - change the name filter
//   - instance.change    - an instance was created, updated or deleted
//
// # Usage
//
// Start the API server:
//
//	nimbus server --config configs/config.yaml
//
// Follow the instance list:
//
//	nimbus watch --name web --page-count 20
//
// Check stored documents:
//
//	nimbus integrity scan
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml, see nimbus config init)
//   - Environment variables (NB_ prefix)
//   - .env file
//
// # API Endpoints
//
// Instances:
//   - GET    /api/v1/instances           - List a page of instances
//   - POST   /api/v1/instances           - Create instance
//   - GET    /api/v1/instances/:id       - Get instance
//   - PUT    /api/v1/instances/:id       - Partial update
//   - DELETE /api/v1/instances/:id       - Delete instance
//   - GET    /api/v1/instances/:id/info  - Get instance info
//   - PUT    /api/v1/instances/:id/info  - Replace instance info
//
// Nodes:
//   - GET /api/v1/nodes                  - Instances grouped by node
//   - GET /api/v1/nodes/:node/instances  - Instances of one node
//
// Other:
//   - POST /api/v1/validate/instance - Validate an instance document
//   - GET  /api/v1/stats             - Instance statistics
//   - GET  /api/v1/ws/events         - Dispatch stream
//   - GET  /api/v1/ws/stats          - WebSocket statistics
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Run integration tests (requires Docker for the CouchDB container):
//
//	go test -tags=integration ./internal/storage/...
//
// Build the binary:
//
//	go build -o nimbus ./cmd/nimbus
package nimbus
