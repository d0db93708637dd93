package objects

import "context"

const (
	// AssemblyClassID is the Assembly object class.
	AssemblyClassID = 0x04
	// AssemblyAttrData is the data attribute of an assembly instance.
	AssemblyAttrData = 3
)

// Assembly reads and writes assembly instance data.
type Assembly struct {
	object
}

func NewAssembly(client AttributeClient) *Assembly {
	return &Assembly{object: newObject(client, AssemblyClassID)}
}

// InstanceData reads the data of assembly instance id.
func (a *Assembly) InstanceData(ctx context.Context, id uint32) ([]byte, error) {
	return a.get(ctx, AssemblyAttrData, id)
}

// SetInstanceData writes the data of assembly instance id.
func (a *Assembly) SetInstanceData(ctx context.Context, id uint32, data []byte) error {
	return a.set(ctx, AssemblyAttrData, id, data)
}
