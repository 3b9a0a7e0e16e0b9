// Package events holds publisher decorators shared by every broker backend.
package events

import (
	"context"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

var _ interfaces.EventPublisher = NopPublisher{}
