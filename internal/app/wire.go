package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/vadf/assistant/internal/orchestrator"
	"github.com/vadf/assistant/internal/toolserver"
)

// toolDialer adapts toolserver.Client to the orchestrator's Dialer
// interface. The indirection exists because a typed nil *toolserver.Conn
// would not compare equal to a nil interface on the orchestrator side.
type toolDialer struct {
	client *toolserver.Client
}

func (d *toolDialer) Dial(ctx context.Context, conversationID uuid.UUID, ref toolserver.ServerRef, token string) (orchestrator.ToolConn, error) {
	conn, err := d.client.Dial(ctx, conversationID, ref, token)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
