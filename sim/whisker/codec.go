package whisker

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/whisker-sim/whisker-sim/sim"
)

// DNAExtension is the file suffix for serialized policy artifacts.
const DNAExtension = ".remy.dna"

// Wire schema for serialized trees. Hand-encoded against the protobuf wire
// format; field numbers are unique across all message types and are the
// external contract shared with other tools that read these artifacts.
// Change them only with a format version bump.
//
//	Memory      { rec_send_ewma=1 (double), rec_rec_ewma=2 (double), rtt_ratio=3 (double) }
//	MemoryRange { lower=11 (Memory), upper=12 (Memory) }
//	Whisker     { window_increment=20 (sint32), window_multiple=21 (double),
//	              intersend=22 (double), domain=23 (MemoryRange) }
//	WhiskerTree { domain=30 (MemoryRange), children=31 (repeated WhiskerTree),
//	              leaf=32 (Whisker) }
const (
	fieldMemorySendEWMA = 1
	fieldMemoryAckEWMA  = 2
	fieldMemoryRTTRatio = 3

	fieldRangeLower = 11
	fieldRangeUpper = 12

	fieldWhiskerIncrement = 20
	fieldWhiskerMultiple  = 21
	fieldWhiskerIntersend = 22
	fieldWhiskerDomain    = 23

	fieldTreeDomain   = 30
	fieldTreeChildren = 31
	fieldTreeLeaf     = 32
)

// Encode serializes the tree. The encoding is canonical: fields appear in
// ascending field-number order, every Memory emits all three doubles, and
// a leaf node carries a whisker whose domain repeats the node domain.
func Encode(t *Tree) []byte {
	return t.appendNode(nil, 0)
}

func (t *Tree) appendNode(b []byte, id int32) []byte {
	n := &t.nodes[id]
	b = protowire.AppendTag(b, fieldTreeDomain, protowire.BytesType)
	b = protowire.AppendBytes(b, appendRange(nil, n.domain))
	for _, c := range n.children {
		b = protowire.AppendTag(b, fieldTreeChildren, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendNode(nil, c))
	}
	if n.isLeaf() {
		b = protowire.AppendTag(b, fieldTreeLeaf, protowire.BytesType)
		b = protowire.AppendBytes(b, appendWhisker(nil, n.action, n.domain))
	}
	return b
}

func appendRange(b []byte, r sim.MemoryRange) []byte {
	b = protowire.AppendTag(b, fieldRangeLower, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMemory(nil, r.Lower))
	b = protowire.AppendTag(b, fieldRangeUpper, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMemory(nil, r.Upper))
	return b
}

func appendMemory(b []byte, m sim.Observation) []byte {
	b = protowire.AppendTag(b, fieldMemorySendEWMA, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.SendEWMA))
	b = protowire.AppendTag(b, fieldMemoryAckEWMA, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.AckEWMA))
	b = protowire.AppendTag(b, fieldMemoryRTTRatio, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.RTTRatio))
	return b
}

func appendWhisker(b []byte, a sim.Action, domain sim.MemoryRange) []byte {
	b = protowire.AppendTag(b, fieldWhiskerIncrement, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(a.WindowIncrement)))
	b = protowire.AppendTag(b, fieldWhiskerMultiple, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(a.WindowMultiple))
	b = protowire.AppendTag(b, fieldWhiskerIntersend, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(a.IntersendSeconds))
	b = protowire.AppendTag(b, fieldWhiskerDomain, protowire.BytesType)
	b = protowire.AppendBytes(b, appendRange(nil, domain))
	return b
}

// Decode parses a serialized tree. Unknown fields are skipped, so
// artifacts written by tools that embed extra blocks still load. Decoding
// aborts with FormatError on malformed framing, a node missing its
// domain, or a node with both (or neither) children and a leaf action;
// no partial tree is returned.
func Decode(data []byte) (*Tree, error) {
	t := &Tree{}
	if _, err := t.decodeNode(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) decodeNode(data []byte) (int32, error) {
	// Reserve the arena slot first so the root lands at index 0 and
	// children follow in document order.
	id := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{})

	var (
		domain    sim.MemoryRange
		hasDomain bool
		children  []int32
		action    sim.Action
		hasLeaf   bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, framingError("node tag", n)
		}
		data = data[n:]

		if typ != protowire.BytesType || (num != fieldTreeDomain && num != fieldTreeChildren && num != fieldTreeLeaf) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, framingError("node field", n)
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, framingError("node field length", n)
		}
		data = data[n:]

		switch num {
		case fieldTreeDomain:
			r, err := decodeRange(v)
			if err != nil {
				return 0, err
			}
			domain = r
			hasDomain = true
		case fieldTreeChildren:
			child, err := t.decodeNode(v)
			if err != nil {
				return 0, err
			}
			children = append(children, child)
		case fieldTreeLeaf:
			a, err := decodeWhisker(v)
			if err != nil {
				return 0, err
			}
			action = a
			hasLeaf = true
		}
	}

	if !hasDomain {
		return 0, &sim.FormatError{Reason: "node missing domain"}
	}
	if err := domain.Validate(); err != nil {
		return 0, &sim.FormatError{Reason: "node domain invalid", Err: err}
	}
	if len(children) > 0 && hasLeaf {
		return 0, &sim.FormatError{Reason: "node has both children and a leaf action"}
	}
	if len(children) == 0 && !hasLeaf {
		return 0, &sim.FormatError{Reason: "node has neither children nor a leaf action"}
	}
	t.nodes[id] = node{domain: domain, children: children, action: action}
	return id, nil
}

func decodeRange(data []byte) (sim.MemoryRange, error) {
	var (
		r        sim.MemoryRange
		hasLower bool
		hasUpper bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return r, framingError("memory range tag", n)
		}
		data = data[n:]

		if typ != protowire.BytesType || (num != fieldRangeLower && num != fieldRangeUpper) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return r, framingError("memory range field", n)
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return r, framingError("memory range field length", n)
		}
		data = data[n:]

		m, err := decodeMemory(v)
		if err != nil {
			return r, err
		}
		if num == fieldRangeLower {
			r.Lower = m
			hasLower = true
		} else {
			r.Upper = m
			hasUpper = true
		}
	}
	if !hasLower || !hasUpper {
		return r, &sim.FormatError{Reason: "memory range missing a bound"}
	}
	return r, nil
}

func decodeMemory(data []byte) (sim.Observation, error) {
	var m sim.Observation
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, framingError("memory tag", n)
		}
		data = data[n:]

		if typ != protowire.Fixed64Type || num < fieldMemorySendEWMA || num > fieldMemoryRTTRatio {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, framingError("memory field", n)
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return m, framingError("memory value", n)
		}
		data = data[n:]

		f := math.Float64frombits(v)
		switch num {
		case fieldMemorySendEWMA:
			m.SendEWMA = f
		case fieldMemoryAckEWMA:
			m.AckEWMA = f
		case fieldMemoryRTTRatio:
			m.RTTRatio = f
		}
	}
	return m, nil
}

// decodeWhisker extracts the leaf action. The whisker's own domain field is
// parsed for framing validity but the node domain is authoritative.
func decodeWhisker(data []byte) (sim.Action, error) {
	var a sim.Action
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, framingError("whisker tag", n)
		}
		data = data[n:]

		switch {
		case num == fieldWhiskerIncrement && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, framingError("whisker increment", n)
			}
			data = data[n:]
			a.WindowIncrement = int32(protowire.DecodeZigZag(v))
		case num == fieldWhiskerMultiple && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return a, framingError("whisker multiple", n)
			}
			data = data[n:]
			a.WindowMultiple = math.Float64frombits(v)
		case num == fieldWhiskerIntersend && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return a, framingError("whisker intersend", n)
			}
			data = data[n:]
			a.IntersendSeconds = math.Float64frombits(v)
		case num == fieldWhiskerDomain && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, framingError("whisker domain", n)
			}
			data = data[n:]
			if _, err := decodeRange(v); err != nil {
				return a, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return a, framingError("whisker field", n)
			}
			data = data[n:]
		}
	}
	return a, nil
}

func framingError(where string, n int) *sim.FormatError {
	return &sim.FormatError{Reason: "malformed framing at " + where, Err: protowire.ParseError(n)}
}

// Save writes the tree to path. Artifacts conventionally end in
// DNAExtension.
func Save(path string, t *Tree) error {
	if err := os.WriteFile(path, Encode(t), 0o644); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// Load reads and decodes the artifact at path.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return Decode(data)
}
