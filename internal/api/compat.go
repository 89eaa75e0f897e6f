package api

import (
	"hash/crc32"
	"strings"

	"github.com/roach88/fwrpc/internal/symbols"
)

// ReservedEndpoints are the fixed low endpoint IDs, in ID order. Their
// layout never changes once shipped.
var ReservedEndpoints = []string{
	"get_core_hash",
	"get_reserved_hash",
	"get_api_hash",
	"get_firmware_version",
	"reboot",
	"ping",
}

// CoreEndpointCount is how many leading reserved endpoints form the core
// hash.
const CoreEndpointCount = 3

// Compat is the compatibility hash triad. Core covers the hash getters,
// Reserved the whole reserved block, API every endpoint and event.
type Compat struct {
	Core     uint32 `json:"core"`
	Reserved uint32 `json:"reserved"`
	API      uint32 `json:"api"`
}

// Compare reports how a peer's triad relates to c: a differing Core or
// Reserved hash is breaking, a differing API hash alone is additive drift.
func (c Compat) Compare(peer Compat) (breaking, drift bool) {
	breaking = c.Core != peer.Core || c.Reserved != peer.Reserved
	drift = c.API != peer.API
	return breaking, drift
}

// HashSignatures is CRC32 (IEEE) over newline-joined signatures.
func HashSignatures(sigs []string) uint32 {
	return crc32.ChecksumIEEE([]byte(strings.Join(sigs, "\n")))
}

func computeCompat(reg *Registry) Compat {
	var core, reserved, all []string
	for _, ep := range reg.Endpoints {
		if ep.Reserved {
			if int(ep.ID) < reg.CoreCount {
				core = append(core, ep.Signature)
			}
			reserved = append(reserved, ep.Signature)
		}
		all = append(all, ep.Signature)
	}
	for _, ev := range reg.Events {
		all = append(all, ev.Signature)
	}
	return Compat{
		Core:     HashSignatures(core),
		Reserved: HashSignatures(reserved),
		API:      HashSignatures(all),
	}
}

// signature renders name:kind(arg:type,...)->ret. Outputs are typed &Type.
func (b *builder) signature(name string, cat Category, inputs []Param, output *Param, ret symbols.CppType) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte(':')
	sb.WriteString(cat.String())
	sb.WriteByte('(')
	for i, in := range inputs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(in.Name)
		sb.WriteByte(':')
		sb.WriteString(b.db.TypeString(in.Type))
	}
	if output != nil {
		if len(inputs) > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(output.Name)
		sb.WriteString(":&")
		sb.WriteString(b.db.TypeString(output.Type))
	}
	sb.WriteString(")->")
	sb.WriteString(b.db.TypeString(ret))
	return sb.String()
}
