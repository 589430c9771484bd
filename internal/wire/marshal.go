package wire

import (
	"bytes"
	"encoding/binary"
)

// MarshalError reports a fixed marshal/unmarshal failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "wire: insufficient data for unmarshal"
	ErrNameTooLong      MarshalError = "wire: name exceeds wire field width"
	ErrUnterminated     MarshalError = "wire: missing NUL terminator in clear id"
)

func putHeader(buf []byte, op OpType) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], 0)
}

func getOpType(data []byte) (OpType, error) {
	if len(data) < headerLen {
		return 0, ErrInsufficientData
	}
	return OpType(binary.LittleEndian.Uint32(data[0:4])), nil
}

// PeekOp extracts the op type from a raw message body without otherwise
// decoding it.
func PeekOp(data []byte) (OpType, error) {
	return getOpType(data)
}

// Marshal encodes r into its START wire form.
func (r *Register) Marshal() []byte {
	buf := make([]byte, registerLen)
	putHeader(buf, OpStart)
	binary.LittleEndian.PutUint32(buf[8:12], r.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Start))
	copy(buf[24:24+MaxMDTNameLen], r.MDTName)
	return buf
}

// Unmarshal decodes a START wire body into r.
func (r *Register) Unmarshal(data []byte) error {
	if len(data) < registerLen {
		return ErrInsufficientData
	}
	r.Flags = binary.LittleEndian.Uint32(data[8:12])
	r.Start = int64(binary.LittleEndian.Uint64(data[16:24]))
	r.MDTName = cString(data[24 : 24+MaxMDTNameLen])
	return nil
}

// Marshal encodes an (empty) DEQUEUE body.
func (d *Dequeue) Marshal() []byte {
	buf := make([]byte, headerLen)
	putHeader(buf, OpDequeue)
	return buf
}

// Unmarshal validates a DEQUEUE wire body.
func (d *Dequeue) Unmarshal(data []byte) error {
	if len(data) < headerLen {
		return ErrInsufficientData
	}
	return nil
}

// Marshal encodes c into its CLEAR wire form.
func (c *Clear) Marshal() []byte {
	id := make([]byte, 0, len(c.ReaderID)+1+len(c.MDTName)+1)
	id = append(id, c.ReaderID...)
	id = append(id, 0)
	id = append(id, c.MDTName...)
	id = append(id, 0)

	buf := make([]byte, headerLen+8+4+len(id))
	putHeader(buf, OpClear)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Index))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(id)))
	copy(buf[20:], id)
	return buf
}

// Unmarshal decodes a CLEAR wire body into c.
func (c *Clear) Unmarshal(data []byte) error {
	if len(data) < headerLen+8+4 {
		return ErrInsufficientData
	}
	c.Index = int64(binary.LittleEndian.Uint64(data[8:16]))
	idLen := int(binary.LittleEndian.Uint32(data[16:20]))
	if len(data) < headerLen+8+4+idLen {
		return ErrInsufficientData
	}
	id := data[20 : 20+idLen]

	sep := bytes.IndexByte(id, 0)
	if sep < 0 {
		return ErrUnterminated
	}
	c.ReaderID = string(id[:sep])
	rest := id[sep+1:]
	sep2 := bytes.IndexByte(rest, 0)
	if sep2 < 0 {
		return ErrUnterminated
	}
	c.MDTName = string(rest[:sep2])
	return nil
}

// Marshal encodes an (empty) FINI body.
func (f *Fini) Marshal() []byte {
	buf := make([]byte, headerLen)
	putHeader(buf, OpFini)
	return buf
}

// Unmarshal validates a FINI wire body.
func (f *Fini) Unmarshal(data []byte) error {
	if len(data) < headerLen {
		return ErrInsufficientData
	}
	return nil
}

// Marshal encodes e into its ENQUEUE wire form. e.Records is appended
// verbatim; it is the caller's responsibility to have packed it as
// concatenated, self-delimiting records.
func (e *Enqueue) Marshal() []byte {
	buf := make([]byte, headerLen+4+len(e.Records))
	putHeader(buf, OpEnqueue)
	binary.LittleEndian.PutUint32(buf[8:12], e.Count)
	copy(buf[12:], e.Records)
	return buf
}

// Unmarshal decodes an ENQUEUE wire body into e. Records aliases data;
// callers that retain it across subsequent receives must copy it.
func (e *Enqueue) Unmarshal(data []byte) error {
	if len(data) < headerLen+4 {
		return ErrInsufficientData
	}
	e.Count = binary.LittleEndian.Uint32(data[8:12])
	e.Records = data[12:]
	return nil
}

// Marshal encodes a into its ACK wire form.
func (a *Ack) Marshal() []byte {
	buf := make([]byte, headerLen+4)
	putHeader(buf, OpAck)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(a.RetCode))
	return buf
}

// Unmarshal decodes an ACK wire body into a.
func (a *Ack) Unmarshal(data []byte) error {
	if len(data) < headerLen+4 {
		return ErrInsufficientData
	}
	a.RetCode = int32(binary.LittleEndian.Uint32(data[8:12]))
	return nil
}

// Marshal encodes s into its SIGNAL wire form.
func (s *Signal) Marshal() []byte {
	buf := make([]byte, headerLen+8+MaxMDTNameLen)
	putHeader(buf, OpSignal)
	binary.LittleEndian.PutUint64(buf[8:16], s.Ret)
	copy(buf[16:16+MaxMDTNameLen], s.MDTName)
	return buf
}

// Unmarshal decodes a SIGNAL wire body into s.
func (s *Signal) Unmarshal(data []byte) error {
	if len(data) < headerLen+8+MaxMDTNameLen {
		return ErrInsufficientData
	}
	s.Ret = binary.LittleEndian.Uint64(data[8:16])
	s.MDTName = cString(data[16 : 16+MaxMDTNameLen])
	return nil
}

// cString returns the string up to the first NUL byte in field, or the
// entire field if unterminated (matching the original wire format's
// fixed-width, best-effort-terminated name fields).
func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}
