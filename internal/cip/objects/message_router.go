package objects

import (
	"context"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// MessageRouterClassID is the Message Router object class.
const MessageRouterClassID = 0x02

// MessageRouter reports the objects and connections a device supports.
type MessageRouter struct {
	object
}

func NewMessageRouter(client AttributeClient) *MessageRouter {
	return &MessageRouter{object: newObject(client, MessageRouterClassID)}
}

// ObjectList returns the class IDs the device implements (attribute 1).
func (m *MessageRouter) ObjectList(ctx context.Context) ([]uint16, error) {
	b, err := m.get(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(b)
	n, err := r.Uint16("object count")
	if err != nil {
		return nil, err
	}
	if err := r.ExpectAtLeast(int(n)*2, "object list"); err != nil {
		return nil, err
	}
	classes := make([]uint16, n)
	for i := range classes {
		classes[i], _ = r.Uint16("class id")
	}
	return classes, nil
}

// NumberAvailable is the maximum number of connections (attribute 2).
func (m *MessageRouter) NumberAvailable(ctx context.Context) (uint16, error) {
	return m.getUint16(ctx, 2)
}

// NumberActive is the number of connections in use (attribute 3).
func (m *MessageRouter) NumberActive(ctx context.Context) (uint16, error) {
	return m.getUint16(ctx, 3)
}

// ActiveConnections lists the active connection IDs (attribute 4).
func (m *MessageRouter) ActiveConnections(ctx context.Context) ([]uint16, error) {
	b, err := m.get(ctx, 4, 0)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(b)
	ids := make([]uint16, len(b)/2)
	for i := range ids {
		ids[i], _ = r.Uint16("connection id")
	}
	return ids, nil
}
