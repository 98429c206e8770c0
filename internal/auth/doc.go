// Package auth provides API authentication and authorisation for easycom.
//
// Callers present an HS256 JWT access token issued by easycom itself
// (see `easycom token`). A token carries a subject and one of two roles:
//
//   - operator: read everything, connect, disconnect and send
//   - admin: everything an operator can do, plus device deletion
//
// Role permissions are a static map; no database lookup happens on a
// request.
package auth
