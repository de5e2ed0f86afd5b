package certificatetransparency

import (
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/google/certificate-transparency-go/x509"
	"github.com/google/certificate-transparency-go/x509/pkix"
)

func TestCalculateHashIsColonSeparatedUppercaseHex(t *testing.T) {
	data := []byte("hello certstream")

	sha1Sum := sha1.Sum(data) //nolint:gosec
	sha256Sum := sha256.Sum256(data)

	gotSHA1 := calculateSHA1(data)
	gotSHA256 := calculateSHA256(data)

	wantSHA1 := strings.ToUpper(hex.EncodeToString(sha1Sum[:]))
	wantSHA256 := strings.ToUpper(hex.EncodeToString(sha256Sum[:]))

	if stripColons(gotSHA1) != wantSHA1 {
		t.Fatalf("SHA1 = %q, want (colon-stripped) %q", gotSHA1, wantSHA1)
	}

	if stripColons(gotSHA256) != wantSHA256 {
		t.Fatalf("SHA256 = %q, want (colon-stripped) %q", gotSHA256, wantSHA256)
	}

	if !strings.Contains(gotSHA1, ":") {
		t.Fatal("SHA1 fingerprint is not colon-separated")
	}
}

func stripColons(s string) string {
	return strings.ReplaceAll(s, ":", "")
}

func TestFormatSerialNumberPadsOddLength(t *testing.T) {
	got := formatSerialNumber(big.NewInt(0xABC))
	if got != "0ABC" {
		t.Fatalf("formatSerialNumber(0xABC) = %q, want %q", got, "0ABC")
	}

	got = formatSerialNumber(big.NewInt(0xABCD))
	if got != "ABCD" {
		t.Fatalf("formatSerialNumber(0xABCD) = %q, want %q", got, "ABCD")
	}
}

func TestBuildAllDomainsPreservesOrderAndDedups(t *testing.T) {
	cert := x509.Certificate{
		Subject:  pkix.Name{CommonName: "example.com"},
		DNSNames: []string{"www.example.com", "example.com", "*.example.com"},
	}

	domains := buildAllDomains(cert)

	want := []string{"example.com", "www.example.com", "*.example.com"}
	if len(domains) != len(want) {
		t.Fatalf("buildAllDomains() = %v, want %v", domains, want)
	}

	for i, d := range domains {
		if d != want[i] {
			t.Fatalf("buildAllDomains()[%d] = %q, want %q", i, d, want[i])
		}
	}
}

func TestBuildAllDomainsSkipsNonDNSSafeCommonName(t *testing.T) {
	cert := x509.Certificate{
		Subject:  pkix.Name{CommonName: "Acme Certificate Authority"},
		DNSNames: []string{"example.com"},
	}

	domains := buildAllDomains(cert)

	if len(domains) != 1 || domains[0] != "example.com" {
		t.Fatalf("buildAllDomains() = %v, want [example.com]", domains)
	}
}

func TestIsDNSSafeLabel(t *testing.T) {
	cases := map[string]bool{
		"example.com":   true,
		"*.example.com": true,
		"":              false,
		"has space.com": false,
		"C=US, O=Acme":  false,
	}

	for input, want := range cases {
		if got := isDNSSafeLabel(input); got != want {
			t.Errorf("isDNSSafeLabel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRegistrableDomainsDedup(t *testing.T) {
	got := registrableDomains([]string{"a.example.com", "b.example.com", "example.com"})

	seen := map[string]bool{}
	for _, d := range got {
		if seen[d] {
			t.Fatalf("registrableDomains() contains duplicate %q: %v", d, got)
		}
		seen[d] = true
	}

	if !seen["example.com"] {
		t.Fatalf("registrableDomains() = %v, want to contain example.com", got)
	}
}

func TestRegistrableDomainsPassesThroughIPAddresses(t *testing.T) {
	got := registrableDomains([]string{"192.0.2.1"})

	if len(got) != 1 || got[0] != "192.0.2.1" {
		t.Fatalf("registrableDomains([ip]) = %v, want [192.0.2.1]", got)
	}
}

func TestParseSignatureAlgorithmFormat(t *testing.T) {
	cases := map[x509.SignatureAlgorithm]string{
		x509.SHA256WithRSA:    "sha256, rsa",
		x509.ECDSAWithSHA256: "ecdsa, sha256",
		x509.PureEd25519:     "ed25519",
		x509.UnknownSignatureAlgorithm: "unknown",
	}

	for alg, want := range cases {
		if got := parseSignatureAlgorithm(alg); got != want {
			t.Errorf("parseSignatureAlgorithm(%v) = %q, want %q", alg, got, want)
		}
	}
}

func TestBuildExtensionsPopulatesExtendedKeyUsage(t *testing.T) {
	cert := x509.Certificate{
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		Extensions: []pkix.Extension{
			{Id: x509.OIDExtensionKeyUsage},
			{Id: x509.OIDExtensionExtendedKeyUsage},
		},
	}

	ext := buildExtensions(cert)

	if ext.ExtendedKeyUsage == nil {
		t.Fatal("buildExtensions() did not populate ExtendedKeyUsage")
	}

	got := *ext.ExtendedKeyUsage
	if !strings.Contains(got, "TLS Web Server Authentication") || !strings.Contains(got, "TLS Web Client Authentication") {
		t.Fatalf("ExtendedKeyUsage = %q, want both server and client auth usages", got)
	}
}

func TestBuildExtensionsOmitsExtendedKeyUsageWhenAbsent(t *testing.T) {
	cert := x509.Certificate{
		KeyUsage: x509.KeyUsageDigitalSignature,
		Extensions: []pkix.Extension{
			{Id: x509.OIDExtensionKeyUsage},
		},
	}

	ext := buildExtensions(cert)

	if ext.ExtendedKeyUsage != nil {
		t.Fatalf("ExtendedKeyUsage = %v, want nil when extension absent", ext.ExtendedKeyUsage)
	}
}

func TestExtKeyUsageToStringRendersUnknownOIDs(t *testing.T) {
	unknown := []asn1.ObjectIdentifier{{1, 2, 3, 4}}

	got := extKeyUsageToString(nil, unknown)
	if !strings.Contains(got, "UnknownOID:1.2.3.4") {
		t.Fatalf("extKeyUsageToString(unknown oid) = %q, want to contain UnknownOID:1.2.3.4", got)
	}
}
