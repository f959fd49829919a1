package detect

import (
	"crypto/rsa"

	zx509 "github.com/zmap/zcrypto/x509"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// parseCertificate decodes a DER-encoded leaf certificate with zcrypto's
// X.509 parser and maps it onto scanning.Certificate: subject, issuer,
// SANs, validity, serial number, signature and public-key algorithms, and
// the RSA key size. No trust, revocation, or CT-log checks are made
// (spec §4.8 Non-goals).
func parseCertificate(der []byte) (*scanning.Certificate, error) {
	cert, err := zx509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	out := &scanning.Certificate{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SANs:               cert.DNSNames,
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		SerialNumber:       cert.SerialNumber.String(),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		SelfSigned:         cert.Subject.String() == cert.Issuer.String(),
	}

	if rsaKey, ok := cert.PublicKey.(*rsa.PublicKey); ok {
		out.PublicKeyBits = rsaKey.N.BitLen()
	}

	return out, nil
}
