package core

import "sort"

// Dictionary describes the link to a host: every command and response with
// its ID and argument format, plus named firmware constants. It is served
// in chunks by the identify command.
type Dictionary struct {
	reg       *CommandRegistry
	version   string
	constants map[string]string
	cached    []byte
}

// NewDictionary creates a dictionary over reg.
func NewDictionary(reg *CommandRegistry, version string) *Dictionary {
	return &Dictionary{
		reg:       reg,
		version:   version,
		constants: make(map[string]string),
	}
}

// AddConstant publishes a named value. Call before the first Build.
func (d *Dictionary) AddConstant(name, value string) {
	d.constants[name] = value
	d.cached = nil
}

// AddConstantUint publishes a numeric constant.
func (d *Dictionary) AddConstantUint(name string, value uint32) {
	d.AddConstant(name, utoa(value))
}

// Build renders the dictionary as JSON:
//
//	{"version":..,"config":{..},"commands":{"name fmt":id},"responses":{..}}
func (d *Dictionary) Build() []byte {
	if d.cached != nil {
		return d.cached
	}

	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = appendJSONString(out, d.version)

	out = append(out, `,"config":{`...)
	names := make([]string, 0, len(d.constants))
	for n := range d.constants {
		names = append(names, n)
	}
	sort.Strings(names)
	for i, n := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, n)
		out = append(out, ':')
		out = appendJSONString(out, d.constants[n])
	}

	entries := d.reg.Entries()
	out = append(out, `},"commands":{`...)
	out = appendEntries(out, entries, true)
	out = append(out, `},"responses":{`...)
	out = appendEntries(out, entries, false)
	out = append(out, "}}"...)

	d.cached = out
	return out
}

func appendEntries(out []byte, entries []Command, commands bool) []byte {
	first := true
	for _, e := range entries {
		if (e.Handler != nil) != commands {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		key := e.Name
		if e.Format != "" {
			key += " " + e.Format
		}
		out = appendJSONString(out, key)
		out = append(out, ':')
		out = append(out, utoa(uint32(e.ID))...)
	}
	return out
}

// appendJSONString quotes s. Dictionary text is plain ASCII, so only quote
// and backslash need escaping.
func appendJSONString(out []byte, s string) []byte {
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return append(out, '"')
}

// Chunk returns up to count bytes of the dictionary starting at offset.
// An empty chunk marks the end.
func (d *Dictionary) Chunk(offset uint32, count uint8) []byte {
	data := d.Build()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return data[offset:end]
}
