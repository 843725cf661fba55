package provider

import (
	"context"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// Provider is the abstraction over text completion APIs.
type Provider interface {
	Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error)
	Name() string
}
