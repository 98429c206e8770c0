// Package connection defines the Connection entity, its transport contract and
// the Registry that makes live connections addressable by identifier.
//
// A Connection is a named, addressable, stateful link to one remote peer. Its
// identifier is generated once at construction and is the only basis for
// identity: two Connection values with the same ID are the same logical link
// even when their names or statuses differ (see IsVersionOf).
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                        connection package                      │
//	│                                                                │
//	│  ┌──────────────┐   ┌───────────────┐   ┌──────────────────┐   │
//	│  │  Connection  │   │   Registry    │   │    Transport     │   │
//	│  │              │   │               │   │                  │   │
//	│  │ • identity   │◀──│ • id → weak * │   │ • Ready(ctx)     │   │
//	│  │ • status     │   │ • prune hooks │   │ • Open(ctx,addr) │   │
//	│  │ • handle     │   │               │   │ • Handle         │   │
//	│  └──────────────┘   └───────────────┘   └──────────────────┘   │
//	└────────────────────────────────────────────────────────────────┘
//
// # Status
//
// Status moves Disconnected → Connecting → Connected | ConnectFailed and
// Connected → Disconnected. Only the connection service drives these
// transitions through the lifecycle methods (BeginConnect, Attach, Fail,
// Detach). Status performs lazy reconciliation: if the cached status is
// Connected but the handle reports itself closed, the connection drops the
// stale handle and reports Disconnected.
//
// # Addresses
//
// Addresses are a tagged variant over the transport kind:
//
//	bt, _ := connection.ParseBluetoothAddress("00:1a:7d:da:71:13")
//	tcp, _ := connection.NewTCPAddress("127.0.0.1", 9000)
//
// # Registry
//
// The Registry holds weak references. It never keeps a Connection alive; an
// entry is pruned automatically once its last owner (usually a Device) drops
// it. Create one per process and inject it where needed:
//
//	reg := connection.NewRegistry()
//	conn, _ := connection.New("printer", tcp)
//	reg.Register(conn)
//
//	c, err := reg.Lookup(conn.ID())
//	if errors.Is(err, connection.ErrNotFound) {
//	    // unknown or collected
//	}
package connection
