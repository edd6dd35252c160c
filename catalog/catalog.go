// Package catalog parses the ASN.1 structure of Windows driver catalog (.cat) files.
package catalog

import (
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/encoding/unicode"
)

// Signature kinds.
const (
	KindPEImageData = "spcPEImageData"
	KindLink        = "spcLink"
)

// Digest algorithms.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

var (
	oidSignedData         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidCertTrustList      = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 10, 1}
	oidCatalogList        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 1, 1}
	oidCatalogMemberMD5   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 1, 2}
	oidCatalogMemberSHA1  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 1, 3}
	oidNameValue          = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 2, 1}
	oidMemberInfo         = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 2, 2}
	oidMemberInfo2        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 2, 3}
	oidSpcIndirectData    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSpcPEImageData     = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 15}
	oidSpcLink            = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 25}
	oidSHA1               = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256             = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSigningTime        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidCounterSignature   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
	oidRFC3161Timestamp   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 3, 3, 1}
	oidTSTInfo            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	tagBMPString          = cbasn1.Tag(30)
	tagContext0           = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagContext1           = cbasn1.Tag(1).ContextSpecific().Constructed()
	utcTimeLayout         = "060102150405Z0700"
	generalizedTimeLayout = "20060102150405Z0700"
)

// Digest is a raw hash value, shown as hex.
type Digest []byte

// MarshalYAML implements yaml.Marshaler.
func (d Digest) MarshalYAML() (any, error) {
	return hex.EncodeToString(d), nil
}

// Signature is the Authenticode hash a catalog records for a member file.
type Signature struct {
	Kind            string `yaml:"kind"`
	DigestAlgorithm string `yaml:"digest_algorithm"`
	Digest          Digest `yaml:"digest"`
}

// Member is one file entry of a catalog.
type Member struct {
	Attributes map[string]string `yaml:"attributes"`
	Signature  *Signature        `yaml:"signature,omitempty"`
}

// File returns the member file name.
func (m Member) File() string {
	return m.Attributes["File"]
}

// OSAttr returns the kernel versions the member is valid for, e.g. "2:6.1".
func (m Member) OSAttr() []string {
	return splitList(m.Attributes["OSAttr"])
}

// Catalog is a parsed driver catalog.
type Catalog struct {
	Attributes   map[string]string `yaml:"attributes"`
	Timestamp    time.Time         `yaml:"timestamp"`
	SigningTimes []time.Time       `yaml:"signing_times"`
	Members      []Member          `yaml:"members"`
}

// OSes returns the catalog OS signatures, e.g. "_v100_X64".
func (c *Catalog) OSes() []string {
	return splitList(c.Attributes["OS"])
}

// MaxTimestamp returns the newest of the catalog timestamp and its signing times.
func (c *Catalog) MaxTimestamp() time.Time {
	ts := c.Timestamp

	for _, t := range c.SigningTimes {
		if t.After(ts) {
			ts = t
		}
	}

	return ts
}

// ParseFile parses the catalog at path.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read catalog %q: %w", path, err)
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse catalog %q: %w", path, err)
	}

	return cat, nil
}

// Parse parses DER encoded catalog data.
func Parse(data []byte) (*Catalog, error) {
	sd, err := parseSignedData(data)
	if err != nil {
		return nil, err
	}

	if !sd.contentType.Equal(oidCertTrustList) {
		return nil, fmt.Errorf("Unexpected content type %s", sd.contentType)
	}

	cat, err := parseCertTrustList(sd.content)
	if err != nil {
		return nil, err
	}

	for _, si := range sd.signerInfos {
		times, err := signingTimes(si)
		if err != nil {
			return nil, err
		}

		cat.SigningTimes = append(cat.SigningTimes, times...)
	}

	return cat, nil
}

type signedData struct {
	contentType asn1.ObjectIdentifier
	content     cryptobyte.String
	signerInfos []cryptobyte.String
}

func parseSignedData(data []byte) (*signedData, error) {
	var (
		contentInfo cryptobyte.String
		explicit    cryptobyte.String
		signed      cryptobyte.String
		contentType asn1.ObjectIdentifier
	)

	input := cryptobyte.String(data)

	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) ||
		!contentInfo.ReadASN1ObjectIdentifier(&contentType) {
		return nil, errors.New("Malformed PKCS#7 content info")
	}

	if !contentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("Content type %s is not signedData", contentType)
	}

	if !contentInfo.ReadASN1(&explicit, tagContext0) || !explicit.ReadASN1(&signed, cbasn1.SEQUENCE) {
		return nil, errors.New("Malformed PKCS#7 signed data")
	}

	var inner cryptobyte.String

	if !signed.SkipASN1(cbasn1.INTEGER) ||
		!signed.SkipASN1(cbasn1.SET) ||
		!signed.ReadASN1(&inner, cbasn1.SEQUENCE) {
		return nil, errors.New("Malformed signed data header")
	}

	sd := &signedData{}

	if !inner.ReadASN1ObjectIdentifier(&sd.contentType) {
		return nil, errors.New("Malformed encapsulated content info")
	}

	var present bool

	var content cryptobyte.String

	if !inner.ReadOptionalASN1(&content, &present, tagContext0) {
		return nil, errors.New("Malformed encapsulated content")
	}

	sd.content = content

	// Certificates and CRLs are not verified.
	if !signed.SkipOptionalASN1(tagContext0) || !signed.SkipOptionalASN1(tagContext1) {
		return nil, errors.New("Malformed certificates")
	}

	var infos cryptobyte.String

	if !signed.ReadASN1(&infos, cbasn1.SET) {
		return nil, errors.New("Malformed signer infos")
	}

	for !infos.Empty() {
		var si cryptobyte.String

		if !infos.ReadASN1(&si, cbasn1.SEQUENCE) {
			return nil, errors.New("Malformed signer info")
		}

		sd.signerInfos = append(sd.signerInfos, si)
	}

	return sd, nil
}

func parseCertTrustList(content cryptobyte.String) (*Catalog, error) {
	var (
		ctl      cryptobyte.String
		list     cryptobyte.String
		memberID cryptobyte.String
		members  cryptobyte.String
		oid      asn1.ObjectIdentifier
	)

	if !content.ReadASN1(&ctl, cbasn1.SEQUENCE) ||
		!ctl.ReadASN1(&list, cbasn1.SEQUENCE) ||
		!list.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("Malformed certificate trust list")
	}

	if !oid.Equal(oidCatalogList) {
		return nil, fmt.Errorf("Unexpected catalog list type %s", oid)
	}

	if !ctl.SkipASN1(cbasn1.OCTET_STRING) {
		return nil, errors.New("Malformed catalog identifier")
	}

	cat := &Catalog{
		Attributes: map[string]string{},
	}

	timestamp, err := readTime(&ctl)
	if err != nil {
		return nil, fmt.Errorf("Failed to read catalog timestamp: %w", err)
	}

	cat.Timestamp = timestamp

	if !ctl.ReadASN1(&memberID, cbasn1.SEQUENCE) || !memberID.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("Malformed catalog member identifier")
	}

	if !oid.Equal(oidCatalogMemberMD5) && !oid.Equal(oidCatalogMemberSHA1) {
		return nil, fmt.Errorf("Unexpected catalog member type %s", oid)
	}

	if !ctl.ReadASN1(&members, cbasn1.SEQUENCE) {
		return nil, errors.New("Malformed catalog members")
	}

	for !members.Empty() {
		var member cryptobyte.String

		if !members.ReadASN1(&member, cbasn1.SEQUENCE) {
			return nil, errors.New("Malformed catalog member")
		}

		m, err := parseMember(member)
		if err != nil {
			return nil, err
		}

		cat.Members = append(cat.Members, *m)
	}

	var (
		explicit cryptobyte.String
		present  bool
	)

	if !ctl.ReadOptionalASN1(&explicit, &present, tagContext0) {
		return nil, errors.New("Malformed catalog attributes")
	}

	if !present {
		return cat, nil
	}

	var attrs cryptobyte.String

	if !explicit.ReadASN1(&attrs, cbasn1.SEQUENCE) {
		return nil, errors.New("Malformed catalog attributes")
	}

	for !attrs.Empty() {
		var (
			attr  cryptobyte.String
			value cryptobyte.String
		)

		if !attrs.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&oid) ||
			!attr.ReadASN1(&value, cbasn1.OCTET_STRING) {
			return nil, errors.New("Malformed catalog attribute")
		}

		if !oid.Equal(oidNameValue) {
			return nil, fmt.Errorf("Unexpected catalog attribute type %s", oid)
		}

		name, val, err := parseNameValue(value)
		if err != nil {
			return nil, err
		}

		cat.Attributes[name] = val
	}

	return cat, nil
}

func parseMember(member cryptobyte.String) (*Member, error) {
	var attrs cryptobyte.String

	if !member.SkipASN1(cbasn1.OCTET_STRING) || !member.ReadASN1(&attrs, cbasn1.SET) {
		return nil, errors.New("Malformed catalog member")
	}

	m := &Member{
		Attributes: map[string]string{},
	}

	for !attrs.Empty() {
		var (
			attr   cryptobyte.String
			values cryptobyte.String
			first  cryptobyte.String
			oid    asn1.ObjectIdentifier
			tag    cbasn1.Tag
		)

		if !attrs.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&oid) ||
			!attr.ReadASN1(&values, cbasn1.SET) ||
			!values.ReadAnyASN1Element(&first, &tag) {
			return nil, errors.New("Malformed catalog member attribute")
		}

		switch {
		case oid.Equal(oidNameValue):
			name, val, err := parseNameValue(first)
			if err != nil {
				return nil, err
			}

			m.Attributes[name] = val

		case oid.Equal(oidSpcIndirectData):
			sig, err := parseSpcIndirectData(first)
			if err != nil {
				return nil, err
			}

			m.Signature = sig

		case oid.Equal(oidMemberInfo), oid.Equal(oidMemberInfo2):
			continue

		default:
			return nil, fmt.Errorf("Unknown catalog member attribute %s", oid)
		}
	}

	return m, nil
}

func parseNameValue(data cryptobyte.String) (string, string, error) {
	var (
		nv    cryptobyte.String
		name  cryptobyte.String
		value cryptobyte.String
	)

	if !data.ReadASN1(&nv, cbasn1.SEQUENCE) ||
		!nv.ReadASN1(&name, tagBMPString) ||
		!nv.SkipASN1(cbasn1.INTEGER) ||
		!nv.ReadASN1(&value, cbasn1.OCTET_STRING) {
		return "", "", errors.New("Malformed name/value attribute")
	}

	decodedName, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(name)
	if err != nil {
		return "", "", fmt.Errorf("Failed to decode attribute name: %w", err)
	}

	decodedValue, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(value)
	if err != nil {
		return "", "", fmt.Errorf("Failed to decode attribute %q: %w", decodedName, err)
	}

	if !strings.HasSuffix(string(decodedValue), "\x00") {
		return "", "", fmt.Errorf("Attribute %q value isn't NUL terminated", decodedName)
	}

	return string(decodedName), strings.TrimSuffix(string(decodedValue), "\x00"), nil
}

func parseSpcIndirectData(data cryptobyte.String) (*Signature, error) {
	var (
		sid     cryptobyte.String
		kind    cryptobyte.String
		info    cryptobyte.String
		alg     cryptobyte.String
		digest  cryptobyte.String
		kindOID asn1.ObjectIdentifier
		algOID  asn1.ObjectIdentifier
	)

	if !data.ReadASN1(&sid, cbasn1.SEQUENCE) ||
		!sid.ReadASN1(&kind, cbasn1.SEQUENCE) ||
		!kind.ReadASN1ObjectIdentifier(&kindOID) ||
		!sid.ReadASN1(&info, cbasn1.SEQUENCE) ||
		!info.ReadASN1(&alg, cbasn1.SEQUENCE) ||
		!alg.ReadASN1ObjectIdentifier(&algOID) ||
		!info.ReadASN1(&digest, cbasn1.OCTET_STRING) {
		return nil, errors.New("Malformed SpcIndirectData")
	}

	sig := &Signature{
		Digest: Digest(digest),
	}

	switch {
	case kindOID.Equal(oidSpcPEImageData):
		sig.Kind = KindPEImageData
	case kindOID.Equal(oidSpcLink):
		sig.Kind = KindLink
	default:
		return nil, fmt.Errorf("Unknown SpcIndirectData kind %s", kindOID)
	}

	switch {
	case algOID.Equal(oidSHA1):
		sig.DigestAlgorithm = AlgorithmSHA1
	case algOID.Equal(oidSHA256):
		sig.DigestAlgorithm = AlgorithmSHA256
	default:
		return nil, fmt.Errorf("Unknown digest algorithm %s", algOID)
	}

	return sig, nil
}

type signerInfo struct {
	authAttrs   cryptobyte.String
	unauthAttrs cryptobyte.String
}

func parseSignerInfo(si cryptobyte.String) (*signerInfo, error) {
	var (
		info    signerInfo
		present bool
	)

	if !si.SkipASN1(cbasn1.INTEGER) ||
		!si.SkipASN1(cbasn1.SEQUENCE) ||
		!si.SkipASN1(cbasn1.SEQUENCE) ||
		!si.ReadOptionalASN1(&info.authAttrs, &present, tagContext0) ||
		!si.SkipASN1(cbasn1.SEQUENCE) ||
		!si.SkipASN1(cbasn1.OCTET_STRING) ||
		!si.ReadOptionalASN1(&info.unauthAttrs, &present, tagContext1) {
		return nil, errors.New("Malformed signer info")
	}

	return &info, nil
}

// forEachAttribute calls f with the type and the values of each attribute.
func forEachAttribute(attrs cryptobyte.String, f func(oid asn1.ObjectIdentifier, values cryptobyte.String) error) error {
	for !attrs.Empty() {
		var (
			attr   cryptobyte.String
			values cryptobyte.String
			oid    asn1.ObjectIdentifier
		)

		if !attrs.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&oid) ||
			!attr.ReadASN1(&values, cbasn1.SET) {
			return errors.New("Malformed attribute")
		}

		err := f(oid, values)
		if err != nil {
			return err
		}
	}

	return nil
}

func signingTimes(data cryptobyte.String) ([]time.Time, error) {
	si, err := parseSignerInfo(data)
	if err != nil {
		return nil, err
	}

	var times []time.Time

	err = forEachAttribute(si.unauthAttrs, func(oid asn1.ObjectIdentifier, values cryptobyte.String) error {
		for !values.Empty() {
			var (
				value cryptobyte.String
				tag   cbasn1.Tag
				t     *time.Time
				err   error
			)

			if !values.ReadAnyASN1Element(&value, &tag) {
				return errors.New("Malformed attribute value")
			}

			switch {
			case oid.Equal(oidCounterSignature):
				t, err = counterSignatureTime(value)
			case oid.Equal(oidRFC3161Timestamp):
				t, err = rfc3161Time(value)
			}

			if err != nil {
				return err
			}

			if t != nil {
				times = append(times, *t)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to read signing times: %w", err)
	}

	return times, nil
}

func counterSignatureTime(data cryptobyte.String) (*time.Time, error) {
	var si cryptobyte.String

	if !data.ReadASN1(&si, cbasn1.SEQUENCE) {
		return nil, errors.New("Malformed countersignature")
	}

	info, err := parseSignerInfo(si)
	if err != nil {
		return nil, err
	}

	var signingTime *time.Time

	err = forEachAttribute(info.authAttrs, func(oid asn1.ObjectIdentifier, values cryptobyte.String) error {
		if signingTime != nil || !oid.Equal(oidSigningTime) {
			return nil
		}

		t, err := readTime(&values)
		if err != nil {
			return err
		}

		signingTime = &t

		return nil
	})
	if err != nil {
		return nil, err
	}

	return signingTime, nil
}

func rfc3161Time(data cryptobyte.String) (*time.Time, error) {
	sd, err := parseSignedData(data)
	if err != nil {
		return nil, err
	}

	if !sd.contentType.Equal(oidTSTInfo) {
		return nil, fmt.Errorf("Unexpected timestamp content type %s", sd.contentType)
	}

	var (
		octets  cryptobyte.String
		tstInfo cryptobyte.String
	)

	if !sd.content.ReadASN1(&octets, cbasn1.OCTET_STRING) ||
		!octets.ReadASN1(&tstInfo, cbasn1.SEQUENCE) ||
		!tstInfo.SkipASN1(cbasn1.INTEGER) ||
		!tstInfo.SkipASN1(cbasn1.OBJECT_IDENTIFIER) ||
		!tstInfo.SkipASN1(cbasn1.SEQUENCE) ||
		!tstInfo.SkipASN1(cbasn1.INTEGER) {
		return nil, errors.New("Malformed TSTInfo")
	}

	t, err := readTime(&tstInfo)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// readTime reads a UTCTime or GeneralizedTime, with optional fractional seconds.
func readTime(s *cryptobyte.String) (time.Time, error) {
	var (
		raw    cryptobyte.String
		layout string
	)

	switch {
	case s.PeekASN1Tag(cbasn1.UTCTime):
		layout = utcTimeLayout
		if !s.ReadASN1(&raw, cbasn1.UTCTime) {
			return time.Time{}, errors.New("Malformed UTCTime")
		}

	case s.PeekASN1Tag(cbasn1.GeneralizedTime):
		layout = generalizedTimeLayout
		if !s.ReadASN1(&raw, cbasn1.GeneralizedTime) {
			return time.Time{}, errors.New("Malformed GeneralizedTime")
		}

	default:
		return time.Time{}, errors.New("Expected a time value")
	}

	t, err := time.Parse(layout, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("Failed to parse time %q: %w", string(raw), err)
	}

	return t.UTC(), nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	return strings.Split(value, ",")
}
