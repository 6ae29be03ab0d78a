package types

// Request represents one unit of work entering a stage.
//
// Source is the stable identifier of the originating input (typically an
// archive path) and never changes as the envelope moves through the
// pipeline. BatchID distinguishes sub-units of the same source; nil means
// "whole source, unbatched". Payload is stage-specific input data.
type Request struct {
	source  string
	batchID *int
	payload any
}

// NewRequest creates a Request. The batch ordinal is copied so the caller
// cannot mutate it after construction.
func NewRequest(source string, batchID *int, payload any) *Request {
	return &Request{
		source:  source,
		batchID: copyBatchID(batchID),
		payload: payload,
	}
}

// Source returns the originating input identity.
func (r *Request) Source() string { return r.source }

// BatchID returns the batch ordinal, or nil for a whole-source request.
func (r *Request) BatchID() *int { return copyBatchID(r.batchID) }

// Payload returns the stage-specific input data.
func (r *Request) Payload() any { return r.payload }

// Response represents one unit of completed work leaving a stage. It carries
// the same Source/BatchID as its originating Request plus the stage output.
type Response struct {
	source  string
	batchID *int
	result  any
}

// NewResponse creates a Response.
func NewResponse(source string, batchID *int, result any) *Response {
	return &Response{
		source:  source,
		batchID: copyBatchID(batchID),
		result:  result,
	}
}

// Source returns the originating input identity.
func (r *Response) Source() string { return r.source }

// BatchID returns the batch ordinal, or nil for a record-level response.
func (r *Response) BatchID() *int { return copyBatchID(r.batchID) }

// Result returns the stage output payload.
func (r *Response) Result() any { return r.result }

// Forward turns the Response into the next stage's Request, preserving
// Source and BatchID and carrying the result as the new payload.
func (r *Response) Forward() *Request {
	return NewRequest(r.source, r.batchID, r.result)
}

// Batch returns a pointer to n, for use as a BatchID argument.
func Batch(n int) *int { return &n }

func copyBatchID(id *int) *int {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
