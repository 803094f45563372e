// Package service is the broker's single entry point for clients. It
// combines the block order worker, the tracked orderbooks and the relayer
// and engine connections behind one API, decoupled from the gRPC
// transport.
package service
