// Package types defines the data contracts shared by every pipeline stage:
// the Request/Response envelope, the payload types carried between stages,
// and the framework-wide error taxonomy.
//
// Envelopes are immutable once created. A Request enters a stage, a Response
// leaves it, and the (Source, BatchID) pair of a Response always traces back
// to exactly one originating Request. Payloads are opaque to the framework;
// a stage that receives a payload type it does not recognize fails with
// CodeSchemaMismatch rather than attempting coercion.
package types
