// Package mongo provides a MongoDB-backed implementation of the runtime
// session store. Build the low-level client via
// features/session/mongo/clients/mongo and pass it to NewStore; the resulting
// store is the durable home of sessions and run records and the one
// background runs poll for progress.
package mongo
