// Package message builds the three pre-serialized payload variants
// (spec.md §3 "PreSerialized", §4.5 "Message builder") from a decoded
// leaf certificate and its chain, so that no subscriber ever re-serializes a
// message - it only ever reads an immutable, shared byte slice.
package message

import (
	"encoding/json"
	"log"
	"time"

	"github.com/certstream/certstream-core-go/internal/certstream"
)

// Triple is what travels through the broadcast bus: one immutable
// buffer per stream variant, plus the sequence number the bus
// assigns on publish.
type Triple struct {
	Full    []byte
	Lite    []byte
	Domains []byte
	Seq     uint64
}

// Builder interns per-log Source metadata so every message emitted
// for one log shares the same Source value (spec.md §4.5).
type Builder struct {
	source certstream.Source
}

// NewBuilder returns a Builder bound to one log's source metadata.
func NewBuilder(source certstream.Source) *Builder {
	return &Builder{source: source}
}

// Build serializes leaf/chain/updateType/certIndex into the three
// wire variants. seen is the wall-clock emission time, expressed as
// fractional seconds since the epoch (spec.md §4.5).
func (b *Builder) Build(updateType string, leaf certstream.LeafCert, chain []certstream.LeafCert, certIndex int64) Triple {
	seen := float64(time.Now().UnixNano()) / 1e9

	full := certstream.Entry{
		MessageType: "certificate_update",
		Data: certstream.Data{
			UpdateType: updateType,
			LeafCert:   leaf,
			Chain:      chain,
			CertIndex:  certIndex,
			Seen:       seen,
			Source:     b.source,
		},
	}

	lite := full
	lite.Data.LeafCert = stripDER(leaf)
	lite.Data.Chain = nil

	domains := struct {
		MessageType string                   `json:"message_type"`
		Data        certstream.DomainsData `json:"data"`
	}{
		MessageType: "certificate_update",
		Data: certstream.DomainsData{
			UpdateType: updateType,
			AllDomains: leaf.AllDomains,
			CertIndex:  certIndex,
			Seen:       seen,
			Source:     b.source,
		},
	}

	return Triple{
		Full:    mustMarshal(full),
		Lite:    mustMarshal(lite),
		Domains: mustMarshal(domains),
	}
}

// stripDER returns a copy of leaf with the lite-stream fields
// (spec.md §4.5: "omits as_der and chain from leaf and issuer")
// cleared. Chain is cleared by the caller since stripDER operates on
// a single LeafCert; the lite payload then carries "chain": null.
func stripDER(leaf certstream.LeafCert) certstream.LeafCert {
	leaf.AsDER = ""
	return leaf
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every field of v is a plain struct/slice/string/number; a
		// marshal failure here means a programming error, not bad
		// input, so we log and emit an empty object rather than
		// panic a log worker over one entry.
		log.Printf("ERROR: message builder: marshal failed: %s\n", err)
		return []byte("{}")
	}

	return data
}
