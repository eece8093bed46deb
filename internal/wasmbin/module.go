package wasmbin

import "fmt"

// SectionID identifies a top-level module section, per the core binary
// format. Names mirror the section catalog laid out in the retrieved
// akupila/go-wasm section definitions.
type SectionID byte

const (
	SecCustom   SectionID = 0
	SecType     SectionID = 1
	SecImport   SectionID = 2
	SecFunction SectionID = 3
	SecTable    SectionID = 4
	SecMemory   SectionID = 5
	SecGlobal   SectionID = 6
	SecExport   SectionID = 7
	SecStart    SectionID = 8
	SecElement  SectionID = 9
	SecCode     SectionID = 10
	SecData     SectionID = 11
	SecDataCnt  SectionID = 12
)

// RawSection is a section as it appears on the wire: an id plus its raw
// payload bytes (the declared size has already been consumed). The
// transform only needs to deeply parse Code, Global, Export and Import
// (the last only to count imported globals); every section other than
// Code, Global and Export round-trips untouched.
type RawSection struct {
	ID      SectionID
	Payload []byte
}

// Module is a module split into its ordered top-level sections. Custom
// sections (including the "name" section) are preserved in place.
type Module struct {
	Sections []RawSection
}

// ParseModule validates the preamble and splits the module into raw
// sections without descending into any of them.
func ParseModule(data []byte) (*Module, error) {
	r := NewReader(data)
	magic, err := r.Take(4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrMalformed, err)
	}
	for i := range Magic {
		if magic[i] != Magic[i] {
			return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
		}
	}
	ver, err := r.Take(4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrMalformed, err)
	}
	for i := range Version {
		if ver[i] != Version[i] {
			return nil, fmt.Errorf("%w: unsupported version", ErrMalformed)
		}
	}

	m := &Module{}
	for r.Remaining() > 0 {
		idByte, err := r.Byte()
		if err != nil {
			return nil, err
		}
		size, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: reading section size: %v", ErrMalformed, err)
		}
		payload, err := r.Take(int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: reading section payload: %v", ErrMalformed, err)
		}
		m.Sections = append(m.Sections, RawSection{ID: SectionID(idByte), Payload: payload})
	}
	return m, nil
}

// Find returns the payload of the first section with the given id, and
// whether one was present. The binary format permits at most one of each
// non-custom section, so first-match is sufficient.
func (m *Module) Find(id SectionID) ([]byte, bool) {
	for _, s := range m.Sections {
		if s.ID == id {
			return s.Payload, true
		}
	}
	return nil, false
}

// Replace swaps the payload of the first section with the given id for
// newPayload. If no such section exists and newPayload is non-empty, one is
// appended at the canonical position (sections must stay in id order for
// non-custom ids, which Encode relies on since all callers only replace
// existing sections or append Global/Export when the module didn't declare
// one yet).
func (m *Module) Replace(id SectionID, newPayload []byte) {
	for i := range m.Sections {
		if m.Sections[i].ID == id {
			m.Sections[i].Payload = newPayload
			return
		}
	}
	if len(newPayload) > 0 {
		m.insertInOrder(RawSection{ID: id, Payload: newPayload})
	}
}

func (m *Module) insertInOrder(sec RawSection) {
	for i, s := range m.Sections {
		if s.ID != SecCustom && s.ID > sec.ID {
			m.Sections = append(m.Sections[:i], append([]RawSection{sec}, m.Sections[i:]...)...)
			return
		}
	}
	m.Sections = append(m.Sections, sec)
}

// Encode re-serializes the module: magic, version, then each section with
// its id byte and a LEB128-encoded payload length.
func (m *Module) Encode() []byte {
	out := make([]byte, 0, 8+len(m.Sections)*8)
	out = append(out, Magic[:]...)
	out = append(out, Version[:]...)
	for _, s := range m.Sections {
		out = append(out, byte(s.ID))
		out = AppendULEB128(out, uint64(len(s.Payload)))
		out = append(out, s.Payload...)
	}
	return out
}
