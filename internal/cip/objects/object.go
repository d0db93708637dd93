// Package objects wraps common CIP objects over an explicit messaging client.
package objects

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
)

// DefaultInstance is the instance addressed when none is given.
const DefaultInstance = 1

// AttributeClient performs the attribute services an object needs.
type AttributeClient interface {
	GetAttributeSingle(ctx context.Context, p path.EPath) ([]byte, error)
	SetAttributeSingle(ctx context.Context, p path.EPath, value []byte) error
	GetAttributesAll(ctx context.Context, p path.EPath) ([]byte, error)
}

// object addresses one instance of a class.
type object struct {
	client AttributeClient
	path   path.EPath
}

func newObject(client AttributeClient, classID uint32) object {
	return object{client: client, path: path.ToObject(classID, DefaultInstance)}
}

// Path returns the class and instance path of the object.
func (o object) Path() path.EPath { return o.path }

func (o object) instancePath(instance uint32) (path.EPath, error) {
	if instance == 0 {
		return o.path, nil
	}
	return o.path.WithInstanceID(instance)
}

func (o object) attributePath(attribute, instance uint32) (path.EPath, error) {
	p, err := o.instancePath(instance)
	if err != nil {
		return path.EPath{}, err
	}
	return p.WithAttributeID(attribute)
}

// get reads an attribute of the default instance, or of instance when nonzero.
func (o object) get(ctx context.Context, attribute, instance uint32) ([]byte, error) {
	p, err := o.attributePath(attribute, instance)
	if err != nil {
		return nil, err
	}
	return o.client.GetAttributeSingle(ctx, p)
}

func (o object) set(ctx context.Context, attribute, instance uint32, value []byte) error {
	p, err := o.attributePath(attribute, instance)
	if err != nil {
		return err
	}
	return o.client.SetAttributeSingle(ctx, p, value)
}

func (o object) getUint16(ctx context.Context, attribute uint32) (uint16, error) {
	b, err := o.get(ctx, attribute, 0)
	if err != nil {
		return 0, err
	}
	return codec.NewReader(b).Uint16(fmt.Sprintf("attribute %d", attribute))
}

func (o object) getUint32(ctx context.Context, attribute uint32) (uint32, error) {
	b, err := o.get(ctx, attribute, 0)
	if err != nil {
		return 0, err
	}
	return codec.NewReader(b).Uint32(fmt.Sprintf("attribute %d", attribute))
}

// readShortString reads a length-prefixed SHORT_STRING.
func readShortString(r *codec.Reader, what string) (string, error) {
	n, err := r.Uint8(what + " length")
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n), what)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readString reads a STRING: a u16 length, the characters, and a pad byte
// when the length is odd.
func readString(r *codec.Reader, what string) (string, error) {
	n, err := r.Uint16(what + " length")
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n), what)
	if err != nil {
		return "", err
	}
	if n%2 == 1 && r.Remaining() > 0 {
		_ = r.Skip(1, what+" pad")
	}
	return string(b), nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	dst = append(dst, s...)
	if len(s)%2 == 1 {
		dst = append(dst, 0)
	}
	return dst
}
