package objects

import (
	_ "embed"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
)

//go:embed catalog.yaml
var coreCatalog []byte

// ValueType tells how an attribute value is rendered.
type ValueType string

const (
	TypeUint8       ValueType = "uint8"
	TypeUint16      ValueType = "uint16"
	TypeUint32      ValueType = "uint32"
	TypeRevision    ValueType = "revision"
	TypeShortString ValueType = "short_string"
	TypeString      ValueType = "string"
	TypeBytes       ValueType = "bytes"
)

// Entry names one attribute.
type Entry struct {
	Key              string
	Name             string
	ObjectName       string
	Class            uint32
	Instance         uint32
	Attribute        uint32
	Type             ValueType
	Settable         bool
	RequiresInstance bool
	Description      string
}

type entryYAML struct {
	Key              string    `yaml:"key"`
	Name             string    `yaml:"name"`
	ObjectName       string    `yaml:"object_name"`
	EPATH            epathYAML `yaml:"epath"`
	Type             ValueType `yaml:"type"`
	Settable         bool      `yaml:"settable,omitempty"`
	RequiresInstance bool      `yaml:"requires_instance,omitempty"`
	Description      string    `yaml:"description,omitempty"`
}

type epathYAML struct {
	Class     string `yaml:"class"`
	Instance  string `yaml:"instance,omitempty"`
	Attribute string `yaml:"attribute"`
}

// UnmarshalYAML reads hex or decimal IDs; the instance defaults to 1.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	var raw entryYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	class, err := parseID(raw.EPATH.Class, 0xFFFF)
	if err != nil {
		return fmt.Errorf("%s: class: %w", raw.Key, err)
	}
	instance := uint64(DefaultInstance)
	if raw.EPATH.Instance != "" {
		if instance, err = parseID(raw.EPATH.Instance, 0xFFFF); err != nil {
			return fmt.Errorf("%s: instance: %w", raw.Key, err)
		}
	}
	attribute, err := parseID(raw.EPATH.Attribute, 0xFFFF)
	if err != nil {
		return fmt.Errorf("%s: attribute: %w", raw.Key, err)
	}
	*e = Entry{
		Key:              raw.Key,
		Name:             raw.Name,
		ObjectName:       raw.ObjectName,
		Class:            uint32(class),
		Instance:         uint32(instance),
		Attribute:        uint32(attribute),
		Type:             raw.Type,
		Settable:         raw.Settable,
		RequiresInstance: raw.RequiresInstance,
		Description:      raw.Description,
	}
	return nil
}

func parseID(s string, max uint64) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing value")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if v > max {
		return 0, fmt.Errorf("%d exceeds %d", v, max)
	}
	return v, nil
}

// Path addresses the attribute on instance, or on the entry's instance when 0.
func (e *Entry) Path(instance uint32) path.EPath {
	if instance == 0 {
		instance = e.Instance
	}
	return path.ToObject(e.Class, instance, e.Attribute)
}

// Format renders a value read from the attribute.
func (e *Entry) Format(b []byte) string {
	r := codec.NewReader(b)
	switch e.Type {
	case TypeUint8:
		if len(b) >= 1 {
			return fmt.Sprintf("%d (0x%02X)", b[0], b[0])
		}
	case TypeUint16:
		if len(b) >= 2 {
			v := binary.LittleEndian.Uint16(b)
			return fmt.Sprintf("%d (0x%04X)", v, v)
		}
	case TypeUint32:
		if len(b) >= 4 {
			v := binary.LittleEndian.Uint32(b)
			return fmt.Sprintf("%d (0x%08X)", v, v)
		}
	case TypeRevision:
		if len(b) >= 2 {
			return Revision{Major: b[0], Minor: b[1]}.String()
		}
	case TypeShortString:
		if s, err := readShortString(r, e.Name); err == nil {
			return s
		}
	case TypeString:
		if s, err := readString(r, e.Name); err == nil {
			return s
		}
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// CatalogFile is the YAML document.
type CatalogFile struct {
	Version int      `yaml:"version"`
	Name    string   `yaml:"name"`
	Entries []*Entry `yaml:"entries"`
}

// Validate checks the version, keys and types.
func (f *CatalogFile) Validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported catalog version: %d", f.Version)
	}
	keys := make(map[string]bool)
	for i, e := range f.Entries {
		if e.Key == "" {
			return fmt.Errorf("entry %d: missing key", i)
		}
		if keys[e.Key] {
			return fmt.Errorf("entry %d: duplicate key %q", i, e.Key)
		}
		keys[e.Key] = true
		if e.Class == 0 {
			return fmt.Errorf("entry %q: missing class", e.Key)
		}
		switch e.Type {
		case TypeUint8, TypeUint16, TypeUint32, TypeRevision, TypeShortString, TypeString, TypeBytes:
		default:
			return fmt.Errorf("entry %q: unknown type %q", e.Key, e.Type)
		}
	}
	return nil
}

// Catalog indexes entries by key.
type Catalog struct {
	file  *CatalogFile
	byKey map[string]*Entry
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog YAML: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	c := &Catalog{file: &file, byKey: make(map[string]*Entry, len(file.Entries))}
	for _, e := range file.Entries {
		c.byKey[e.Key] = e
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog of common attributes.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(coreCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}

// Lookup finds an entry by key.
func (c *Catalog) Lookup(key string) (*Entry, bool) {
	e, ok := c.byKey[key]
	return e, ok
}

// Entries returns every entry in file order.
func (c *Catalog) Entries() []*Entry {
	return c.file.Entries
}

// Keys returns the sorted keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Search finds entries whose key, name, object or description contains query.
func (c *Catalog) Search(query string) []*Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return c.file.Entries
	}
	var matches []*Entry
	for _, e := range c.file.Entries {
		if strings.Contains(strings.ToLower(e.Key), query) ||
			strings.Contains(strings.ToLower(e.Name), query) ||
			strings.Contains(strings.ToLower(e.ObjectName), query) ||
			strings.Contains(strings.ToLower(e.Description), query) {
			matches = append(matches, e)
		}
	}
	return matches
}
