package core

import "context"

// Adapter translates the internal chat request/response shapes to and from
// one vendor's wire format. Implementations are stateless and safe for
// unlimited concurrent use.
type Adapter interface {
	// Vendor returns the vendor this adapter talks to.
	Vendor() Vendor

	// Supports reports whether the adapter can serve the given model.
	Supports(desc ModelDescriptor) bool

	// Generate executes one synchronous generation call.
	Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamGenerate executes one streaming generation call. The caller
	// must close the returned stream; closing cancels the vendor
	// connection without emitting further chunks.
	StreamGenerate(ctx context.Context, req *ChatRequest) (*Stream, error)
}

// ModelLookup resolves model ids to descriptors. Pure lookup; the only
// failure mode is CodeUnknownModel.
type ModelLookup interface {
	// Describe returns the descriptor for the model id.
	Describe(id string) (ModelDescriptor, error)

	// List returns all known descriptors, sorted by id.
	List() []ModelDescriptor
}

// Generator is the routing surface the server and the queue worker call.
// The Router implements it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	StreamGenerate(ctx context.Context, req *ChatRequest) (*Stream, error)
}
