// Package device groups connections under logical peers.
//
// A Device is the application's notion of "the thing on the other end":
// one peer that may be reachable over several links (for example the same
// board over Bluetooth serial and over TCP). The device layer sits on top
// of the connection core and only consumes its public contracts.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          Device layer                             │
//	│                                                                   │
//	│  ┌──────────────────┐    ┌──────────────────┐                     │
//	│  │     Manager      │    │    Repository    │                     │
//	│  │   (manager.go)   │───▶│  (repository.go) │───▶ SQLite          │
//	│  │                  │    │                  │     devices,         │
//	│  │ • strong owner   │    │ • ListDevices    │     device_connections│
//	│  │ • registry sync  │    │ • SaveDevice     │                     │
//	│  │ • save on change │    │ • DeleteDevice   │                     │
//	│  └────────┬─────────┘    └──────────────────┘                     │
//	│           │                                                       │
//	│           ▼                                                       │
//	│  ┌──────────────────┐         ┌──────────────────────┐            │
//	│  │      Device      │────────▶│ connection.Registry   │            │
//	│  │   (device.go)    │ register│ (weak references)     │            │
//	│  └──────────────────┘         └──────────────────────┘            │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Identity
//
// A device's connection list is unique by connection ID. Adding a
// connection whose ID is already present replaces the existing entry in
// place, so the last added metadata wins:
//
//	d.AddConnection(aPrime) // same ID as a, different name
//	d.AddConnection(a)      // d still has one connection: a
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	mgr := device.NewManager(repo, registry)
//	mgr.SetLogger(log)
//
//	if _, err := mgr.Load(ctx); err != nil {
//	    log.Warn("device load failed", "error", err)
//	}
//
//	d, _ := mgr.CreateDevice("Bench controller")
//	c, _ := mgr.AddCandidate(d.ID(), connection.Candidate{
//	    Name: "bench tcp", Address: "192.168.1.40:9000", Kind: connection.KindTCPIP,
//	})
//
// # Thread Safety
//
// Device and Manager are safe for concurrent use. Change listeners run
// synchronously on the goroutine that made the change.
package device
