package spec

// General and extended status tables. Unknown codes resolve to "unknown".

const unknownStatus = "unknown"

// General status codes referenced by the client.
const (
	StatusSuccess           uint8 = 0x00
	StatusConnectionFailure uint8 = 0x01
)

// CIP Vol 1, Table B-1.1.
var generalStatusText = map[uint8]string{
	0x00: "Success",
	0x01: "Connection failure",
	0x02: "Resource unavailable",
	0x03: "Invalid Parameter value",
	0x04: "Path segment error",
	0x05: "Path destination unknown",
	0x06: "Partial transfer",
	0x07: "Connection lost",
	0x08: "Service not supported",
	0x09: "Invalid attribute value",
	0x0A: "Attribute List error",
	0x0B: "Already in requested mode/state",
	0x0C: "Object state conflict",
	0x0D: "Object already exists",
	0x0E: "Attribute not settable",
	0x0F: "Privilege violation",
	0x10: "Device state conflict",
	0x11: "Reply data too large",
	0x12: "Fragmentation of a primitive value",
	0x13: "Not enough data",
	0x14: "Attribute not supported",
	0x15: "Too much data",
	0x16: "Object does not exist",
	0x17: "Service fragmentation sequence not in progress",
	0x18: "No stored attribute data",
	0x19: "Store operation failure",
	0x1A: "Routing failure, request packet too large",
	0x1B: "Routing failure, response packet too large",
	0x1C: "Missing attribute list entry data",
	0x1D: "Invalid attribute value list",
	0x1E: "Embedded service error",
	0x1F: "Vendor specific error",
	0x20: "Invalid parameter",
	0x21: "Write-once value or medium already written",
	0x22: "Invalid Reply Received",
	0x23: "Buffer overflow",
	0x24: "Message format error",
	0x25: "Key failure path",
	0x26: "Path size invalid",
	0x27: "Unexpected attribute list",
	0x28: "Invalid Member ID",
	0x29: "Member not settable",
	0x2A: "Group 2 only Server failure",
	0x2B: "Unknown Modbus Error",
}

// GeneralStatusText returns the description of a general status code.
func GeneralStatusText(status uint8) string {
	if text, ok := generalStatusText[status]; ok {
		return text
	}
	return unknownStatus
}

// Connection Manager extended status, CIP Vol 1 Table 3-5.29.
var connectionManagerStatusText = map[uint16]string{
	0x0100: "Connection in use or duplicate forward open",
	0x0103: "Transport class and trigger combination not supported",
	0x0106: "Ownership conflict",
	0x0107: "Target connection not found",
	0x0108: "Invalid network connection parameter",
	0x0109: "Invalid connection size",
	0x0110: "Target for connection not configured",
	0x0111: "RPI not supported",
	0x0113: "Out of connections",
	0x0114: "Vendor ID or product code mismatch",
	0x0115: "Product type mismatch",
	0x0116: "Revision mismatch",
	0x0117: "Invalid produced or consumed application path",
	0x0118: "Invalid or inconsistent configuration application path",
	0x0119: "Non-listen only connection not opened",
	0x011A: "Target object out of connections",
	0x011B: "RPI is smaller than the production inhibit time",
	0x0203: "Connection timed out",
	0x0204: "Unconnected request timed out",
	0x0205: "Parameter error in unconnected request service",
	0x0206: "Message too large for unconnected_send service",
	0x0207: "Unconnected acknowledge without reply",
	0x0301: "No buffer memory available",
	0x0302: "Network bandwidth not available for data",
	0x0303: "No consumed connection ID filter available",
	0x0304: "Not configured to send scheduled priority data",
	0x0305: "Schedule signature mismatch",
	0x0306: "Schedule signature validation not possible",
	0x0311: "Port not available",
	0x0312: "Link address not valid",
	0x0315: "Invalid segment in connection path",
	0x0316: "Error in forward close service connection path",
	0x0317: "Scheduling not specified",
	0x0318: "Link address to self invalid",
	0x0319: "Secondary resources unavailable",
	0x031A: "Rack connection already established",
	0x031B: "Module connection already established",
	0x031C: "Miscellaneous",
	0x031D: "Redundant connection mismatch",
	0x031E: "No more user configurable link consumer resources available in the producing module",
	0x0800: "Network link in path module is offline",
	0x0810: "No target application data available",
	0x0811: "No originator application data available",
	0x0812: "Node address has changed since the network was scheduled",
	0x0813: "Not configured for off-subnet multicast",
}

// ConnectionManagerStatusText returns the description of a Connection Manager extended status.
func ConnectionManagerStatusText(ext uint16) string {
	if text, ok := connectionManagerStatusText[ext]; ok {
		return text
	}
	return unknownStatus
}

// Encapsulation status codes, CIP Vol 2 Table 2-3.3.
const (
	EncapStatusSuccess              uint32 = 0x0000
	EncapStatusInvalidCommand       uint32 = 0x0001
	EncapStatusInsufficientMemory   uint32 = 0x0002
	EncapStatusIncorrectData        uint32 = 0x0003
	EncapStatusInvalidSessionHandle uint32 = 0x0064
	EncapStatusInvalidLength        uint32 = 0x0065
	EncapStatusUnsupportedProtocol  uint32 = 0x0069
)

var encapsulationStatusText = map[uint32]string{
	EncapStatusSuccess:              "Success",
	EncapStatusInvalidCommand:       "Invalid or unsupported encapsulation command",
	EncapStatusInsufficientMemory:   "Insufficient memory resources in the receiver",
	EncapStatusIncorrectData:        "Poorly formed or incorrect data",
	EncapStatusInvalidSessionHandle: "Invalid session handle",
	EncapStatusInvalidLength:        "Invalid length message",
	EncapStatusUnsupportedProtocol:  "Unsupported encapsulation protocol revision",
}

// EncapsulationStatusText returns the description of an encapsulation status.
func EncapsulationStatusText(status uint32) string {
	if text, ok := encapsulationStatusText[status]; ok {
		return text
	}
	return unknownStatus
}
