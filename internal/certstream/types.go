// Package certstream holds the wire-level data types shared by the
// decoder, the message builder and the protocol adapters. Field names
// and JSON tags mirror the certstream message schema that existing
// clients (Python, Go, JS) already parse - see spec.md §6.
package certstream

// Entry is the outer envelope sent to subscribers.
type Entry struct {
	Data        Data   `json:"data"`
	MessageType string `json:"message_type"`
}

// Data is the payload of a full/lite Entry.
type Data struct {
	UpdateType string     `json:"update_type"`
	LeafCert   LeafCert   `json:"leaf_cert"`
	Chain      []LeafCert `json:"chain"`
	CertIndex  int64      `json:"cert_index"`
	CertLink   string     `json:"cert_link"`
	Seen       float64    `json:"seen"`
	Source     Source     `json:"source"`
}

// DomainsData is the payload of the domains-only stream variant.
type DomainsData struct {
	UpdateType string   `json:"update_type"`
	AllDomains []string `json:"all_domains"`
	CertIndex  int64    `json:"cert_index"`
	Seen       float64  `json:"seen"`
	Source     Source   `json:"source"`
}

// Source identifies the CT log an entry was read from. A single
// Source value is interned and shared across every message emitted
// for one log (spec.md §4.5).
type Source struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Operator      string `json:"operator"`
	NormalizedURL string `json:"normalized_url"`
}

// LeafCert is the structured certificate record (spec.md §3,
// CertRecord). For the lite stream variant the message builder clears
// AsDER, which its omitempty tag then drops, and sets Data.Chain to nil.
type LeafCert struct {
	Subject            Subject    `json:"subject"`
	Issuer             Subject    `json:"issuer"`
	Extensions         Extensions `json:"extensions"`
	NotBefore          int64      `json:"not_before"`
	NotAfter            int64     `json:"not_after"`
	AsDER              string     `json:"as_der,omitempty"`
	SerialNumber       string     `json:"serial_number"`
	Fingerprint        string     `json:"fingerprint"`
	SHA1               string     `json:"sha1,omitempty"`
	SHA256             string     `json:"sha256"`
	SignatureAlgorithm string     `json:"signature_algorithm"`
	KeyType            string     `json:"key_usage,omitempty"`
	IsCA               bool       `json:"is_ca"`
	AllDomains         []string   `json:"all_domains"`
	AllRegDomains      []string   `json:"all_reg_domains,omitempty"`
	ValidationType     string     `json:"validation_type,omitempty"`
	CertType           string     `json:"cert_type,omitempty"`
	CertTypeExt        CertTypeExt `json:"cert_type_ext,omitempty"`
	CAOwner            string     `json:"ca_owner,omitempty"`
}

// CertTypeExt breaks down the SAN count by kind.
type CertTypeExt struct {
	SANCount         int `json:"san_count"`
	WildcardSANCount int `json:"wildcard_san_count"`
	SingleSANCount   int `json:"single_san_count"`
}

// Subject is a certificate's subject or issuer RDN set.
type Subject struct {
	C          *string `json:"C,omitempty"`
	CN         *string `json:"CN,omitempty"`
	L          *string `json:"L,omitempty"`
	O          *string `json:"O,omitempty"`
	OU         *string `json:"OU,omitempty"`
	ST         *string `json:"ST,omitempty"`
	Email      *string `json:"emailAddress,omitempty"`
	Aggregated *string `json:"aggregated,omitempty"`
}

// Extensions holds the mandatory well-known extensions named in
// spec.md §4.4, plus the CT poison marker.
type Extensions struct {
	KeyUsage               *string `json:"keyUsage,omitempty"`
	ExtendedKeyUsage       *string `json:"extendedKeyUsage,omitempty"`
	BasicConstraints       *string `json:"basicConstraints,omitempty"`
	SubjectKeyIdentifier   *string `json:"subjectKeyIdentifier,omitempty"`
	AuthorityKeyIdentifier *string `json:"authorityKeyIdentifier,omitempty"`
	AuthorityInfoAccess    *string `json:"authorityInfoAccess,omitempty"`
	SubjectAltName         *string `json:"subjectAltName,omitempty"`
	CertificatePolicies    *string `json:"certificatePolicies,omitempty"`
	CTLPoisonByte          bool    `json:"ctlPoisonByte,omitempty"`
}
