// Package panel serves the easycom operator console as an embedded asset.
//
// The console is a single static page (HTML, CSS and plain JavaScript)
// compiled into the binary with go:embed. It lists connections through the
// REST API, drives connect, disconnect and send, and follows the
// connection.status and connection.data WebSocket channels. An access
// token, when the API requires one, is entered in the page and kept in
// the browser's local storage.
//
// Paths that do not name an asset fall back to index.html, except under
// /api/, which always answers 404 so API clients never receive HTML.
package panel
