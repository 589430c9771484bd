package lcap

import (
	"encoding/binary"
	"time"
)

// ChangeRecord is one entry in a metadata target's change stream. The
// broker and reader never decode it; they move it as an opaque payload
// and use only its index. Its encoding is a fixed little-endian header
// (index, type, timestamp, flags, name length) followed by the name;
// parent/target identifiers are not carried.
type ChangeRecord struct {
	// Index is the record's position in the MDT's change stream. Indexes
	// are monotonically increasing and gap-free from a single source.
	Index int64

	// Type is a source-defined numeric classification of the change
	// (e.g. create, unlink, rename).
	Type uint32

	// Time is when the source recorded the change.
	Time time.Time

	// Flags carries source-defined per-record flags (e.g. a JOBID flag
	// requesting job-identifier enrichment).
	Flags uint32

	// Name is the file or directory name associated with the change, if
	// any. May be empty.
	Name string
}

const fixedHeaderLen = 8 + 4 + 8 + 4 + 4 // Index + Type + unix nanos + Flags + namelen

// Marshal encodes the record into its wire form: a fixed-size header
// followed by the raw name bytes.
func (r *ChangeRecord) Marshal() []byte {
	name := []byte(r.Name)
	buf := make([]byte, fixedHeaderLen+len(name))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Index))
	binary.LittleEndian.PutUint32(buf[8:12], r.Type)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(r.Time.UnixNano()))
	binary.LittleEndian.PutUint32(buf[20:24], r.Flags)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(name)))
	copy(buf[28:], name)
	return buf
}

// Unmarshal decodes a single record from the front of data and returns
// the number of bytes consumed.
func (r *ChangeRecord) Unmarshal(data []byte) (int, error) {
	if len(data) < fixedHeaderLen {
		return 0, NewError("RECORD_DECODE", CodeProtocol, "truncated record header")
	}
	r.Index = int64(binary.LittleEndian.Uint64(data[0:8]))
	r.Type = binary.LittleEndian.Uint32(data[8:12])
	r.Time = time.Unix(0, int64(binary.LittleEndian.Uint64(data[12:20])))
	r.Flags = binary.LittleEndian.Uint32(data[20:24])
	namelen := int(binary.LittleEndian.Uint32(data[24:28]))

	total := fixedHeaderLen + namelen
	if len(data) < total {
		return 0, NewError("RECORD_DECODE", CodeProtocol, "truncated record name")
	}
	r.Name = string(data[28:total])
	return total, nil
}

// DecodeRecords splits a concatenated, self-delimiting record buffer (as
// carried by an ENQUEUE wire message) into individual records.
func DecodeRecords(data []byte, count uint32) ([]*ChangeRecord, error) {
	recs := make([]*ChangeRecord, 0, count)
	for len(data) > 0 {
		var rec ChangeRecord
		n, err := rec.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
		data = data[n:]
	}
	return recs, nil
}

// EncodeRecords concatenates records into the wire payload an ENQUEUE
// message carries.
func EncodeRecords(recs []*ChangeRecord) []byte {
	var buf []byte
	for _, r := range recs {
		buf = append(buf, r.Marshal()...)
	}
	return buf
}
