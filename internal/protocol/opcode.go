package protocol

import "strings"

// Opcode is a command for the actuator controller, written as one line.
type Opcode string

const (
	OpStart    Opcode = "S"
	OpEnd      Opcode = "E"
	OpPlastic  Opcode = "P"
	OpAluminum Opcode = "A"
	OpReject   Opcode = "R"
)

// Line returns the opcode terminated by a newline.
func (o Opcode) Line() []byte {
	return []byte(string(o) + "\n")
}

// OpcodeForMaterial maps a bottle material to the accept/reject opcode. The
// match ignores case only; padded or empty values are rejected.
func OpcodeForMaterial(material string) Opcode {
	switch strings.ToLower(material) {
	case "plastic":
		return OpPlastic
	case "aluminum":
		return OpAluminum
	default:
		return OpReject
	}
}
