package protocol

import (
	"fmt"
	"unicode/utf8"
)

// CommandID identifies a command sub-type.
type CommandID uint8

const (
	CommandSetEffect      CommandID = 0x01 // [EffectID: u32]
	CommandSetColorMode   CommandID = 0x02 // [Mode: UTF-8, rest of payload]
	CommandSetCustomColor CommandID = 0x03 // [R: f32][G: f32][B: f32]
	CommandSetParameter   CommandID = 0x04 // [NameLen: u16][Name][ValueLen: u16][Value]
)

// String returns the string representation of the command id.
func (id CommandID) String() string {
	switch id {
	case CommandSetEffect:
		return "SetEffect"
	case CommandSetColorMode:
		return "SetColorMode"
	case CommandSetCustomColor:
		return "SetCustomColor"
	case CommandSetParameter:
		return "SetParameter"
	default:
		return fmt.Sprintf("Command(0x%02x)", uint8(id))
	}
}

// Command is a decoded Command payload. The concrete type is one of
// SetEffect, SetColorMode, SetCustomColor, SetParameter or UnknownCommand.
type Command interface {
	ID() CommandID
	encodeBody(e *Encoder)
}

// SetEffect selects a visual effect by id.
type SetEffect struct {
	EffectID uint32
}

// SetColorMode selects a named color mode.
type SetColorMode struct {
	Mode string
}

// SetCustomColor sets the custom color, components in [0, 1].
type SetCustomColor struct {
	R, G, B float32
}

// SetParameter sets a named effect parameter.
type SetParameter struct {
	Name  string
	Value string
}

// UnknownCommand preserves a command id this build does not understand.
// It is reported to handlers rather than treated as an error.
type UnknownCommand struct {
	Command CommandID
	Data    []byte
}

func (SetEffect) ID() CommandID { return CommandSetEffect }
func (SetColorMode) ID() CommandID { return CommandSetColorMode }
func (SetCustomColor) ID() CommandID { return CommandSetCustomColor }
func (SetParameter) ID() CommandID { return CommandSetParameter }
func (c UnknownCommand) ID() CommandID { return c.Command }

func (c SetEffect) encodeBody(e *Encoder) { e.WriteUint32(c.EffectID) }
func (c SetColorMode) encodeBody(e *Encoder) { e.WriteBytes([]byte(c.Mode)) }
func (c SetCustomColor) encodeBody(e *Encoder) {
	e.WriteFloat32(c.R)
	e.WriteFloat32(c.G)
	e.WriteFloat32(c.B)
}
func (c SetParameter) encodeBody(e *Encoder) {
	e.WriteString16(c.Name)
	e.WriteString16(c.Value)
}
func (c UnknownCommand) encodeBody(e *Encoder) { e.WriteBytes(c.Data) }

// EncodeCommand encodes a Command payload.
func EncodeCommand(c Command) []byte {
	e := NewEncoderWithCap(16)
	e.WriteByte(byte(c.ID()))
	c.encodeBody(e)
	return e.Bytes()
}

// DecodeCommand decodes a Command payload. Unrecognized ids decode to
// UnknownCommand with a nil error; truncated known commands fail with
// ErrMalformedPayload.
func DecodeCommand(data []byte) (Command, error) {
	d := NewDecoder(data)
	b, err := d.ReadByte()
	if err != nil {
		return nil, badPayload("command id", err)
	}
	id := CommandID(b)

	switch id {
	case CommandSetEffect:
		v, err := d.ReadUint32()
		if err != nil {
			return nil, badPayload("effect id", err)
		}
		return SetEffect{EffectID: v}, nil

	case CommandSetColorMode:
		rest := d.Rest()
		if !utf8.Valid(rest) {
			return nil, badPayload("color mode is not UTF-8", nil)
		}
		return SetColorMode{Mode: string(rest)}, nil

	case CommandSetCustomColor:
		var c SetCustomColor
		if c.R, err = d.ReadFloat32(); err != nil {
			return nil, badPayload("red", err)
		}
		if c.G, err = d.ReadFloat32(); err != nil {
			return nil, badPayload("green", err)
		}
		if c.B, err = d.ReadFloat32(); err != nil {
			return nil, badPayload("blue", err)
		}
		return c, nil

	case CommandSetParameter:
		name, err := d.ReadString16()
		if err != nil {
			return nil, badPayload("parameter name", err)
		}
		value, err := d.ReadString16()
		if err != nil {
			return nil, badPayload("parameter value", err)
		}
		return SetParameter{Name: name, Value: value}, nil

	default:
		rest := d.Rest()
		data := make([]byte, len(rest))
		copy(data, rest)
		return UnknownCommand{Command: id, Data: data}, nil
	}
}
