// Package core assembles the scenectl runtime: configuration, logging,
// priority lanes, the responder-side transport session, telemetry
// polling, and the decision engine's tick loop.
package core
