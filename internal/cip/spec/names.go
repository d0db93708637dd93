package spec

import "fmt"

// Object classes used by the client.
const (
	ClassIdentity          = 0x01
	ClassMessageRouter     = 0x02
	ClassAssembly          = 0x04
	ClassConnectionManager = 0x06
	ClassTCPIPInterface    = 0xF5
)

// Service codes used by the client.
const (
	ServiceGetAttributesAll   uint8 = 0x01
	ServiceSetAttributesAll   uint8 = 0x02
	ServiceGetAttributeSingle uint8 = 0x0E
	ServiceSetAttributeSingle uint8 = 0x10
	ServiceForwardClose       uint8 = 0x4E
	ServiceUnconnectedSend    uint8 = 0x52
	ServiceForwardOpen        uint8 = 0x54
	ServiceLargeForwardOpen   uint8 = 0x5B

	// ServiceReplyMask is set in the service byte of every response.
	ServiceReplyMask uint8 = 0x80
)

var cipServiceNames = map[uint8]string{
	0x01: "Get_Attributes_All",
	0x02: "Set_Attributes_All",
	0x03: "Get_Attribute_List",
	0x04: "Set_Attribute_List",
	0x05: "Reset",
	0x06: "Start",
	0x07: "Stop",
	0x08: "Create",
	0x09: "Delete",
	0x0A: "Multiple_Service_Packet",
	0x0D: "Apply_Attributes",
	0x0E: "Get_Attribute_Single",
	0x10: "Set_Attribute_Single",
	0x11: "Find_Next_Object_Instance",
	0x14: "Error_Response",
	0x15: "Restore",
	0x16: "Save",
	0x17: "No_Op",
	0x18: "Get_Member",
	0x19: "Set_Member",
	0x1A: "Insert_Member",
	0x1B: "Remove_Member",
	0x1C: "Group_Sync",
	0x4E: "Forward_Close",
	0x52: "Unconnected_Send",
	0x54: "Forward_Open",
	0x56: "Get_Connection_Data",
	0x57: "Search_Connection_Data",
	0x5A: "Get_Connection_Owner",
	0x5B: "Large_Forward_Open",
}

// ServiceName returns a display name for a CIP service code.
// Reply codes resolve to the name of the request they answer.
func ServiceName(code uint8) string {
	if name, ok := cipServiceNames[code&^ServiceReplyMask]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", code)
}

// IsKnownService returns true when a service code is recognized.
func IsKnownService(code uint8) bool {
	_, ok := cipServiceNames[code&^ServiceReplyMask]
	return ok
}

var encapsulationCommandNames = map[uint16]string{
	0x0000: "NOP",
	0x0004: "ListServices",
	0x0063: "ListIdentity",
	0x0064: "ListInterfaces",
	0x0065: "RegisterSession",
	0x0066: "UnRegisterSession",
	0x006F: "SendRRData",
	0x0070: "SendUnitData",
	0x0072: "IndicateStatus",
	0x0073: "Cancel",
}

// CommandName returns the encapsulation command name.
func CommandName(cmd uint16) string {
	if name, ok := encapsulationCommandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%04X)", cmd)
}

var itemTypeNames = map[uint16]string{
	0x0000: "Null Address",
	0x000C: "ListIdentity Response",
	0x00A1: "Connected Address",
	0x00B1: "Connected Data",
	0x00B2: "Unconnected Data",
	0x0100: "ListServices Response",
	0x8000: "Sockaddr Info O->T",
	0x8001: "Sockaddr Info T->O",
	0x8002: "Sequenced Address",
}

// ItemTypeName returns the Common Packet Format item name.
func ItemTypeName(t uint16) string {
	if name, ok := itemTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%04X)", t)
}
