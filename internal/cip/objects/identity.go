package objects

import (
	"context"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// IdentityClassID is the Identity object class.
const IdentityClassID = 0x01

// Identity attribute IDs.
const (
	IdentityAttrVendorID     = 1
	IdentityAttrDeviceType   = 2
	IdentityAttrProductCode  = 3
	IdentityAttrRevision     = 4
	IdentityAttrStatus       = 5
	IdentityAttrSerialNumber = 6
	IdentityAttrProductName  = 7
	IdentityAttrState        = 8
)

// DeviceState is the Identity state attribute.
type DeviceState uint8

const (
	StateNonexistent             DeviceState = 0
	StateSelfTesting             DeviceState = 1
	StateStandby                 DeviceState = 2
	StateOperational             DeviceState = 3
	StateMajorRecoverableFault   DeviceState = 4
	StateMajorUnrecoverableFault DeviceState = 5
	StateDefaultGetAll           DeviceState = 255
)

func (s DeviceState) String() string {
	switch s {
	case StateNonexistent:
		return "nonexistent"
	case StateSelfTesting:
		return "self testing"
	case StateStandby:
		return "standby"
	case StateOperational:
		return "operational"
	case StateMajorRecoverableFault:
		return "major recoverable fault"
	case StateMajorUnrecoverableFault:
		return "major unrecoverable fault"
	case StateDefaultGetAll:
		return "default"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Revision is a major.minor revision.
type Revision struct {
	Major uint8
	Minor uint8
}

func (r Revision) String() string { return fmt.Sprintf("%d.%03d", r.Major, r.Minor) }

// IdentityInstance is the Get_Attributes_All reply of an Identity instance.
type IdentityInstance struct {
	VendorID     uint16
	DeviceType   uint16
	ProductCode  uint16
	Revision     Revision
	Status       uint16
	SerialNumber uint32
	ProductName  string
	// State is present only when the device includes it.
	State    DeviceState
	HasState bool
}

// DecodeIdentityInstance parses attributes 1 through 7, and 8 when present.
func DecodeIdentityInstance(b []byte) (IdentityInstance, error) {
	r := codec.NewReader(b)
	if err := r.ExpectAtLeast(15, "identity instance"); err != nil {
		return IdentityInstance{}, err
	}
	var id IdentityInstance
	id.VendorID, _ = r.Uint16("vendor id")
	id.DeviceType, _ = r.Uint16("device type")
	id.ProductCode, _ = r.Uint16("product code")
	id.Revision.Major, _ = r.Uint8("major revision")
	id.Revision.Minor, _ = r.Uint8("minor revision")
	id.Status, _ = r.Uint16("status")
	id.SerialNumber, _ = r.Uint32("serial number")
	name, err := readShortString(r, "product name")
	if err != nil {
		return IdentityInstance{}, err
	}
	id.ProductName = name
	if r.Remaining() > 0 {
		state, _ := r.Uint8("state")
		id.State, id.HasState = DeviceState(state), true
	}
	return id, nil
}

// Identity is the Identity object, instance 1.
type Identity struct {
	object
}

func NewIdentity(client AttributeClient) *Identity {
	return &Identity{object: newObject(client, IdentityClassID)}
}

func (i *Identity) VendorID(ctx context.Context) (uint16, error) {
	return i.getUint16(ctx, IdentityAttrVendorID)
}

func (i *Identity) DeviceType(ctx context.Context) (uint16, error) {
	return i.getUint16(ctx, IdentityAttrDeviceType)
}

func (i *Identity) ProductCode(ctx context.Context) (uint16, error) {
	return i.getUint16(ctx, IdentityAttrProductCode)
}

func (i *Identity) Revision(ctx context.Context) (Revision, error) {
	b, err := i.get(ctx, IdentityAttrRevision, 0)
	if err != nil {
		return Revision{}, err
	}
	if len(b) < 2 {
		return Revision{}, fmt.Errorf("%w: revision needs 2 bytes, have %d", codec.ErrSourceTooShort, len(b))
	}
	return Revision{Major: b[0], Minor: b[1]}, nil
}

func (i *Identity) Status(ctx context.Context) (uint16, error) {
	return i.getUint16(ctx, IdentityAttrStatus)
}

func (i *Identity) SerialNumber(ctx context.Context) (uint32, error) {
	return i.getUint32(ctx, IdentityAttrSerialNumber)
}

// ProductName reads the SHORT_STRING product name.
func (i *Identity) ProductName(ctx context.Context) (string, error) {
	b, err := i.get(ctx, IdentityAttrProductName, 0)
	if err != nil {
		return "", err
	}
	return readShortString(codec.NewReader(b), "product name")
}

func (i *Identity) State(ctx context.Context) (DeviceState, error) {
	b, err := i.get(ctx, IdentityAttrState, 0)
	if err != nil {
		return 0, err
	}
	if len(b) < 1 {
		return 0, fmt.Errorf("%w: empty state attribute", codec.ErrSourceTooShort)
	}
	return DeviceState(b[0]), nil
}

// Instance reads every attribute with one Get_Attributes_All.
func (i *Identity) Instance(ctx context.Context) (IdentityInstance, error) {
	b, err := i.client.GetAttributesAll(ctx, i.path)
	if err != nil {
		return IdentityInstance{}, err
	}
	return DecodeIdentityInstance(b)
}
