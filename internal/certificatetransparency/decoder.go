// Decoder turns RawEntry bytes into structured certstream.LeafCert
// records (spec.md §3 "RawEntry"/"CertRecord", §4.4 "Decoder"),
// adapted from the teacher's ct-parser.go leafCertFromX509cert family
// onto the certstream wire types.
package certificatetransparency

import (
	"bytes"
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log"
	"math/big"
	"net"
	"strconv"
	"strings"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/x509"
	"github.com/google/certificate-transparency-go/x509/pkix"
	psl "golang.org/x/net/publicsuffix"

	"github.com/certstream/certstream-core-go/internal/certstream"
)

var errNoCertificateFound = errors.New("decoder: no certificate found in entry")

// decoded is the result of decoding one RawEntry: the leaf record,
// its issuer chain, and whether it is a precertificate.
type decoded struct {
	leaf      certstream.LeafCert
	chain     []certstream.LeafCert
	isPrecert bool
}

// decodeEntry parses a RawLogEntry's MerkleTreeLeaf (spec.md §4.4)
// into a decoded record. A decode error here is always non-fatal to
// the caller: the worker logs it at WARN, skips the entry, and
// advances the cursor past it (spec.md §7).
func decodeEntry(rawEntry *ct.RawLogEntry) (decoded, error) {
	logEntry, convErr := rawEntry.ToLogEntry()
	if convErr != nil {
		return decoded{}, fmt.Errorf("convert to log entry: %w", convErr)
	}

	var cert *x509.Certificate
	var rawData []byte
	isPrecert := false

	switch {
	case logEntry.X509Cert != nil:
		cert = logEntry.X509Cert
		rawData = logEntry.X509Cert.Raw
	case logEntry.Precert != nil:
		cert = logEntry.Precert.TBSCertificate
		rawData = logEntry.Precert.Submitted.Data
		isPrecert = true
	default:
		return decoded{}, errNoCertificateFound
	}

	leaf := leafCertFromX509(*cert)
	if isPrecert {
		// The TBS's own Raw bytes don't match what was submitted to
		// the log; recompute the fingerprints over the submitted DER
		// (spec.md §4.4).
		leaf.Fingerprint = calculateSHA1(rawData)
		leaf.SHA1 = leaf.Fingerprint
		leaf.SHA256 = calculateSHA256(rawData)
	}

	leaf.AsDER = base64.StdEncoding.EncodeToString(rawEntry.Cert.Data)

	chain := make([]certstream.LeafCert, 0, len(logEntry.Chain))
	for _, chainEntry := range logEntry.Chain {
		issuerCert, parseErr := x509.ParseCertificate(chainEntry.Data)
		if parseErr != nil {
			return decoded{}, fmt.Errorf("parse chain certificate: %w", parseErr)
		}

		chain = append(chain, leafCertFromX509(*issuerCert))
	}

	return decoded{leaf: leaf, chain: chain, isPrecert: isPrecert}, nil
}

// updateType implements spec.md §4.4: "update_type is PrecertLogEntry
// iff entry_type == 1 OR the poison extension is present."
func (d decoded) updateType() string {
	if d.isPrecert || d.leaf.Extensions.CTLPoisonByte {
		return "PrecertLogEntry"
	}

	return "X509LogEntry"
}

func leafCertFromX509(cert x509.Certificate) certstream.LeafCert {
	leaf := certstream.LeafCert{
		AllDomains:         buildAllDomains(cert),
		NotBefore:          cert.NotBefore.Unix(),
		NotAfter:           cert.NotAfter.Unix(),
		SerialNumber:       formatSerialNumber(cert.SerialNumber),
		SignatureAlgorithm: parseSignatureAlgorithm(cert.SignatureAlgorithm),
		KeyType:            parseKeyType(cert.PublicKeyAlgorithm, cert.RawSubjectPublicKeyInfo),
		IsCA:               cert.IsCA,
	}

	leaf.Subject = buildSubject(cert.Subject)
	leaf.Issuer = buildSubject(cert.Issuer)
	leaf.Extensions = buildExtensions(cert)

	leaf.AsDER = base64.StdEncoding.EncodeToString(cert.Raw)
	leaf.Fingerprint = calculateSHA1(cert.Raw)
	leaf.SHA1 = leaf.Fingerprint
	leaf.SHA256 = calculateSHA256(cert.Raw)

	leaf.ValidationType = classifyValidation(cert, leaf.Subject)
	leaf.AllRegDomains = registrableDomains(leaf.AllDomains)

	wildcards := 0
	for _, d := range leaf.AllDomains {
		if strings.Contains(d, "*") {
			wildcards++
		}
	}

	switch {
	case wildcards > 0:
		leaf.CertType = "Wildcard"
	case len(leaf.AllDomains) > 2:
		leaf.CertType = "Multi"
	default:
		leaf.CertType = "Single"
	}

	leaf.CertTypeExt = certstream.CertTypeExt{
		SANCount:         len(leaf.AllDomains),
		WildcardSANCount: wildcards,
		SingleSANCount:   len(leaf.AllDomains) - wildcards,
	}

	aki := formatKeyIDLower(cert.AuthorityKeyId)
	if owner, ok := CAOwners[aki]; ok {
		leaf.CAOwner = owner
	} else {
		leaf.CAOwner = "unknown"
	}

	return leaf
}

// buildAllDomains implements spec.md §4.4: "start with subject CN if
// it is a DNS-safe label; append each SAN of type dNSName in order;
// preserve first occurrence on duplicates; preserve wildcards
// verbatim."
func buildAllDomains(cert x509.Certificate) []string {
	domains := make([]string, 0, len(cert.DNSNames)+1)
	seen := make(map[string]bool, len(cert.DNSNames)+1)

	if cn := cert.Subject.CommonName; cn != "" && isDNSSafeLabel(cn) {
		domains = append(domains, cn)
		seen[cn] = true
	}

	for _, name := range cert.DNSNames {
		if seen[name] {
			continue
		}

		seen[name] = true
		domains = append(domains, name)
	}

	return domains
}

func isDNSSafeLabel(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n\r/\\:;,") {
		return false
	}

	return true
}

func registrableDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	result := make([]string, 0, len(domains))

	for _, domain := range domains {
		var reg string

		if ip := net.ParseIP(domain); ip != nil {
			reg = domain
		} else if etld1, err := psl.EffectiveTLDPlusOne(strings.TrimPrefix(domain, "*.")); err == nil {
			reg = etld1
		} else {
			reg = domain
		}

		if !seen[reg] {
			seen[reg] = true
			result = append(result, reg)
		}
	}

	return result
}

// classifyValidation derives DV/OV/IV/EV from policy OIDs, matching
// the teacher's leafCertFromX509cert heuristics.
func classifyValidation(cert x509.Certificate, subject certstream.Subject) string {
	validation := "OV"

	policies := fmt.Sprintf("%v", cert.PolicyIdentifiers)
	switch {
	case strings.Contains(policies, "2.23.140.1.2.1"):
		validation = "DV"
	case strings.Contains(policies, "2.23.140.1.2.2"):
		validation = "OV"
	case strings.Contains(policies, "2.23.140.1.2.3"):
		validation = "IV"
	case strings.Contains(policies, "2.23.140.1.1"):
		validation = "EV"
	}

	if subject.O == nil {
		validation = "DV"
	}

	if subject.Aggregated != nil && strings.Contains(*subject.Aggregated, "1.3.6.1.4.1.311.60.2.1.3") {
		validation = "EV"
	}

	return validation
}

func buildSubject(name pkix.Name) certstream.Subject {
	subject := certstream.Subject{
		C:  joinOrNil(name.Country),
		CN: strPtr(name.CommonName),
		L:  joinOrNil(name.Locality),
		O:  joinOrNil(name.Organization),
		OU: joinOrNil(name.OrganizationalUnit),
		ST: joinOrNil(name.Province),
	}

	subject.Aggregated = strPtr(aggregateRDN(name))

	return subject
}

// aggregateRDN builds the "/K=V/..." form in RDN order (spec.md §3,
// §8 "Aggregated DN").
func aggregateRDN(name pkix.Name) string {
	var buf bytes.Buffer

	for _, rdnSet := range name.Names {
		k := rdnOIDName(rdnSet.Type)
		if k == "" {
			continue
		}

		fmt.Fprintf(&buf, "/%s=%v", k, rdnSet.Value)
	}

	return buf.String()
}

func rdnOIDName(oid []int) string {
	key := fmt.Sprintf("%v", oid)
	switch key {
	case "[2 5 4 6]":
		return "C"
	case "[2 5 4 10]":
		return "O"
	case "[2 5 4 11]":
		return "OU"
	case "[2 5 4 3]":
		return "CN"
	case "[2 5 4 7]":
		return "L"
	case "[2 5 4 8]":
		return "ST"
	case "[1 2 840 113549 1 9 1]":
		return "emailAddress"
	default:
		return ""
	}
}

func buildExtensions(cert x509.Certificate) certstream.Extensions {
	ext := certstream.Extensions{}

	for _, extension := range cert.Extensions {
		switch {
		case extension.Id.Equal(x509.OIDExtensionAuthorityKeyId):
			ext.AuthorityKeyIdentifier = formatKeyID(cert.AuthorityKeyId)
		case extension.Id.Equal(x509.OIDExtensionKeyUsage):
			ku := keyUsageToString(cert.KeyUsage)
			ext.KeyUsage = &ku
		case extension.Id.Equal(x509.OIDExtensionSubjectKeyId):
			ext.SubjectKeyIdentifier = formatKeyID(cert.SubjectKeyId)
		case extension.Id.Equal(x509.OIDExtensionBasicConstraints):
			bc := strings.ToUpper(fmt.Sprintf("CA:%t", cert.IsCA))
			ext.BasicConstraints = &bc
		case extension.Id.Equal(x509.OIDExtensionSubjectAltName):
			var buf bytes.Buffer
			for _, name := range cert.DNSNames {
				commaAppend(&buf, "DNS:"+name)
			}
			for _, email := range cert.EmailAddresses {
				commaAppend(&buf, "email:"+email)
			}
			for _, ip := range cert.IPAddresses {
				commaAppend(&buf, "IP Address:"+ip.String())
			}
			san := buf.String()
			ext.SubjectAltName = &san
		case extension.Id.Equal(x509.OIDExtensionAuthorityInfoAccess):
			var buf bytes.Buffer
			for _, issuer := range cert.IssuingCertificateURL {
				commaAppend(&buf, "URI:"+issuer)
			}
			for _, ocsp := range cert.OCSPServer {
				commaAppend(&buf, "URI:"+ocsp)
			}
			aia := buf.String()
			ext.AuthorityInfoAccess = &aia
		case extension.Id.Equal(x509.OIDExtensionCertificatePolicies):
			policies := fmt.Sprintf("%d", cert.PolicyIdentifiers)
			ext.CertificatePolicies = &policies
		case extension.Id.Equal(x509.OIDExtensionExtendedKeyUsage):
			eku := extKeyUsageToString(cert.ExtKeyUsage, cert.UnknownExtKeyUsage)
			ext.ExtendedKeyUsage = &eku
		case extension.Id.Equal(x509.OIDExtensionCTPoison):
			ext.CTLPoisonByte = true
		}
	}

	return ext
}

func joinOrNil(values []string) *string {
	if values == nil {
		return nil
	}

	joined := strings.Join(values, ",")
	return &joined
}

func strPtr(s string) *string { return &s }

func formatKeyID(keyID []byte) *string {
	hexStr := hex.EncodeToString(keyID)

	var digest string
	for i := 0; i < len(hexStr); i += 2 {
		digest += ":" + hexStr[i:i+2]
	}

	digest = strings.TrimLeft(digest, ":")
	digest = fmt.Sprintf("keyid:%s", digest)

	return &digest
}

func formatKeyIDLower(keyID []byte) string {
	return strings.ToLower(hex.EncodeToString(keyID))
}

func formatSerialNumber(serial *big.Int) string {
	sn := fmt.Sprintf("%X", serial)
	if len(sn)%2 == 1 {
		sn = "0" + sn
	}

	return sn
}

// calculateHash hashes data with hasher and renders it as
// colon-separated uppercase hex (spec.md §3, §8 "Fingerprint
// round-trip").
func calculateHash(data []byte, hasher hash.Hash) string {
	if _, err := hasher.Write(data); err != nil {
		log.Printf("WARN: decoder: hashing failed: %s\n", err)
		return ""
	}

	raw := fmt.Sprintf("%02X", hasher.Sum(nil))

	var buf bytes.Buffer
	for i := 0; i < len(raw); i++ {
		if i%2 == 0 && i > 0 {
			buf.WriteByte(':')
		}
		buf.WriteByte(raw[i])
	}

	return buf.String()
}

func calculateSHA1(data []byte) string   { return calculateHash(data, sha1.New()) } //nolint:gosec
func calculateSHA256(data []byte) string { return calculateHash(data, sha256.New()) }

func parseKeyType(alg x509.PublicKeyAlgorithm, rawKey []byte) string {
	switch alg {
	case x509.RSA:
		if pub, err := x509.ParsePKIXPublicKey(rawKey); err == nil {
			if rsaPub, ok := pub.(*rsa.PublicKey); ok {
				return "RSA" + strconv.Itoa(rsaPub.N.BitLen())
			}
		}
	case x509.DSA:
		if pub, err := x509.ParsePKIXPublicKey(rawKey); err == nil {
			if dsaPub, ok := pub.(*dsa.PublicKey); ok {
				return "DSA" + strconv.Itoa(dsaPub.Y.BitLen())
			}
		}
	case x509.ECDSA:
		if pub, err := x509.ParsePKIXPublicKey(rawKey); err == nil {
			if ecdsaPub, ok := pub.(*ecdsa.PublicKey); ok {
				return "ECDSA" + strconv.Itoa(ecdsaPub.X.BitLen())
			}
		}
	}

	return "Unknown"
}

func parseSignatureAlgorithm(alg x509.SignatureAlgorithm) string {
	// spec.md §4.4: lowercase "<digest>, <pubkey>", matching the
	// ordering certstream-server-go already uses for compatibility.
	switch alg {
	case x509.MD2WithRSA:
		return "md2, rsa"
	case x509.MD5WithRSA:
		return "md5, rsa"
	case x509.SHA1WithRSA:
		return "sha1, rsa"
	case x509.SHA256WithRSA:
		return "sha256, rsa"
	case x509.SHA384WithRSA:
		return "sha384, rsa"
	case x509.SHA512WithRSA:
		return "sha512, rsa"
	case x509.SHA256WithRSAPSS:
		return "sha256, rsapss"
	case x509.SHA384WithRSAPSS:
		return "sha384, rsapss"
	case x509.SHA512WithRSAPSS:
		return "sha512, rsapss"
	case x509.DSAWithSHA1:
		return "sha1, dsa"
	case x509.DSAWithSHA256:
		return "sha256, dsa"
	case x509.ECDSAWithSHA1:
		return "ecdsa, sha1"
	case x509.ECDSAWithSHA256:
		return "ecdsa, sha256"
	case x509.ECDSAWithSHA384:
		return "ecdsa, sha384"
	case x509.ECDSAWithSHA512:
		return "ecdsa, sha512"
	case x509.PureEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

func commaAppend(buf *bytes.Buffer, s string) {
	if buf.Len() > 0 {
		buf.WriteString(", ")
	}

	buf.WriteString(s)
}

func extKeyUsageToString(usages []x509.ExtKeyUsage, unknown []asn1.ObjectIdentifier) string {
	names := map[x509.ExtKeyUsage]string{
		x509.ExtKeyUsageAny:                           "Any Extended Key Usage",
		x509.ExtKeyUsageServerAuth:                    "TLS Web Server Authentication",
		x509.ExtKeyUsageClientAuth:                    "TLS Web Client Authentication",
		x509.ExtKeyUsageCodeSigning:                   "Code Signing",
		x509.ExtKeyUsageEmailProtection:                "E-mail Protection",
		x509.ExtKeyUsageIPSECEndSystem:                "IPSec End System",
		x509.ExtKeyUsageIPSECTunnel:                   "IPSec Tunnel",
		x509.ExtKeyUsageIPSECUser:                     "IPSec User",
		x509.ExtKeyUsageTimeStamping:                  "Time Stamping",
		x509.ExtKeyUsageOCSPSigning:                   "OCSP Signing",
		x509.ExtKeyUsageMicrosoftServerGatedCrypto:     "Microsoft Server Gated Crypto",
		x509.ExtKeyUsageNetscapeServerGatedCrypto:      "Netscape Server Gated Crypto",
		x509.ExtKeyUsageMicrosoftCommercialCodeSigning: "Microsoft Commercial Code Signing",
		x509.ExtKeyUsageMicrosoftKernelCodeSigning:     "Microsoft Kernel Code Signing",
	}

	var buf bytes.Buffer

	for _, u := range usages {
		if name, ok := names[u]; ok {
			commaAppend(&buf, name)
		} else {
			commaAppend(&buf, fmt.Sprintf("UnknownExtKeyUsage:%d", u))
		}
	}

	for _, oid := range unknown {
		commaAppend(&buf, fmt.Sprintf("UnknownOID:%s", oid.String()))
	}

	return buf.String()
}

func keyUsageToString(k x509.KeyUsage) string {
	var buf bytes.Buffer

	flags := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "Digital Signature"},
		{x509.KeyUsageContentCommitment, "Content Commitment"},
		{x509.KeyUsageKeyEncipherment, "Key Encipherment"},
		{x509.KeyUsageDataEncipherment, "Data Encipherment"},
		{x509.KeyUsageKeyAgreement, "Key Agreement"},
		{x509.KeyUsageCertSign, "Certificate Signing"},
		{x509.KeyUsageCRLSign, "CRL Signing"},
		{x509.KeyUsageEncipherOnly, "Encipher Only"},
		{x509.KeyUsageDecipherOnly, "Decipher Only"},
	}

	for _, f := range flags {
		if k&f.bit != 0 {
			commaAppend(&buf, f.name)
		}
	}

	return buf.String()
}
