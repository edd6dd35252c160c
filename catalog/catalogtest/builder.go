// Package catalogtest builds synthetic driver catalogs for tests.
package catalogtest

import (
	"crypto/sha256"
	"encoding/asn1"
	"os"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/encoding/unicode"

	"github.com/virtio-win/virtio-win-pkg-scripts/catalog"
)

var (
	oidSignedData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidCertTrustList    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 10, 1}
	oidCatalogList      = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 1, 1}
	oidCatalogMemberMD5 = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 1, 2}
	oidNameValue        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 2, 1}
	oidMemberInfo       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 12, 2, 2}
	oidSpcIndirectData  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSpcPEImageData   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 15}
	oidSpcLink          = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 25}
	oidSHA1             = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256           = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidRSA              = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidSigningTime      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidCounterSignature = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
	oidRFC3161Timestamp = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 3, 3, 1}
	oidTSTInfo          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	oidTSAPolicy        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 601, 10, 3, 1}
	tagBMPString        = cbasn1.Tag(30)
	tagContext0         = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagContext1         = cbasn1.Tag(1).ContextSpecific().Constructed()
)

// Member is a file entry of a synthetic catalog.
type Member struct {
	File      string
	OSAttr    string
	Signature *catalog.Signature
}

// Catalog describes a synthetic catalog.
type Catalog struct {
	// OS is the comma separated list of OS signatures, e.g. "_v100,_v100_X64".
	OS        string
	Timestamp time.Time

	// CounterSignatureTime adds an Authenticode countersignature when set.
	CounterSignatureTime time.Time

	// TimestampTokenTime adds an RFC3161 timestamp token when set.
	TimestampTokenTime time.Time

	Members []Member
}

// LinkSignature returns a whole-file sha256 signature of data.
func LinkSignature(data []byte) *catalog.Signature {
	sum := sha256.Sum256(data)

	return &catalog.Signature{
		Kind:            catalog.KindLink,
		DigestAlgorithm: catalog.AlgorithmSHA256,
		Digest:          sum[:],
	}
}

// WriteFile writes the DER encoded catalog to path.
func (c *Catalog) WriteFile(path string) error {
	data, err := c.Bytes()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Bytes returns the DER encoded catalog.
func (c *Catalog) Bytes() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)

	addContentInfo(b, oidCertTrustList, c.addCertTrustList, func(b *cryptobyte.Builder) {
		addSignerInfo(b, nil, c.addUnauthAttributes)
	})

	return b.Bytes()
}

func (c *Catalog) addCertTrustList(b *cryptobyte.Builder) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidCatalogList)
		})

		b.AddASN1OctetString([]byte("virtio-win-test"))
		addTime(b, cbasn1.UTCTime, "060102150405Z", c.Timestamp)

		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidCatalogMemberMD5)
			b.AddASN1NULL()
		})

		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for i, m := range c.Members {
				addMember(b, i, m)
			}
		})

		b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidNameValue)
					b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
						addNameValue(b, "OS", c.OS)
					})
				})
			})
		})
	})
}

func (c *Catalog) addUnauthAttributes(b *cryptobyte.Builder) {
	if !c.CounterSignatureTime.IsZero() {
		addAttribute(b, oidCounterSignature, func(b *cryptobyte.Builder) {
			addSignerInfo(b, func(b *cryptobyte.Builder) {
				addAttribute(b, oidSigningTime, func(b *cryptobyte.Builder) {
					addTime(b, cbasn1.UTCTime, "060102150405Z", c.CounterSignatureTime)
				})
			}, nil)
		})
	}

	if !c.TimestampTokenTime.IsZero() {
		addAttribute(b, oidRFC3161Timestamp, func(b *cryptobyte.Builder) {
			addContentInfo(b, oidTSTInfo, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1Int64(1)
						b.AddASN1ObjectIdentifier(oidTSAPolicy)
						b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
							addAlgorithm(b, oidSHA256)
							b.AddASN1OctetString(make([]byte, 32))
						})
						b.AddASN1Int64(4242)
						addTime(b, cbasn1.GeneralizedTime, "20060102150405.000Z", c.TimestampTokenTime)
					})
				})
			}, func(b *cryptobyte.Builder) {
				addSignerInfo(b, nil, nil)
			})
		})
	}
}

func addMember(b *cryptobyte.Builder, index int, m Member) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1OctetString([]byte{byte(index)})
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			addAttribute(b, oidNameValue, func(b *cryptobyte.Builder) {
				addNameValue(b, "File", m.File)
			})

			addAttribute(b, oidNameValue, func(b *cryptobyte.Builder) {
				addNameValue(b, "OSAttr", m.OSAttr)
			})

			addAttribute(b, oidMemberInfo, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {})
			})

			if m.Signature != nil {
				addAttribute(b, oidSpcIndirectData, func(b *cryptobyte.Builder) {
					addSpcIndirectData(b, m.Signature)
				})
			}
		})
	})
}

func addSpcIndirectData(b *cryptobyte.Builder, sig *catalog.Signature) {
	kind := oidSpcLink
	if sig.Kind == catalog.KindPEImageData {
		kind = oidSpcPEImageData
	}

	alg := oidSHA256
	if sig.DigestAlgorithm == catalog.AlgorithmSHA1 {
		alg = oidSHA1
	}

	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(kind)
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {})
		})

		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			addAlgorithm(b, alg)
			b.AddASN1OctetString(sig.Digest)
		})
	})
}

func addContentInfo(b *cryptobyte.Builder, contentType asn1.ObjectIdentifier, content cryptobyte.BuilderContinuation, signerInfos cryptobyte.BuilderContinuation) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidSignedData)
		b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					addAlgorithm(b, oidSHA256)
				})

				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(contentType)
					b.AddASN1(tagContext0, content)
				})

				// Certificates aren't looked at.
				b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {})
				})

				b.AddASN1(cbasn1.SET, signerInfos)
			})
		})
	})
}

func addSignerInfo(b *cryptobyte.Builder, authAttrs cryptobyte.BuilderContinuation, unauthAttrs cryptobyte.BuilderContinuation) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {})
			b.AddASN1Int64(1)
		})

		addAlgorithm(b, oidSHA256)

		if authAttrs != nil {
			b.AddASN1(tagContext0, authAttrs)
		}

		addAlgorithm(b, oidRSA)
		b.AddASN1OctetString([]byte{0})

		if unauthAttrs != nil {
			b.AddASN1(tagContext1, unauthAttrs)
		}
	})
}

func addAttribute(b *cryptobyte.Builder, oid asn1.ObjectIdentifier, value cryptobyte.BuilderContinuation) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1(cbasn1.SET, value)
	})
}

func addAlgorithm(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1NULL()
	})
}

func addNameValue(b *cryptobyte.Builder, name string, value string) {
	encodedName, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(name))
	if err != nil {
		b.SetError(err)
		return
	}

	encodedValue, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(value + "\x00"))
	if err != nil {
		b.SetError(err)
		return
	}

	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(tagBMPString, func(b *cryptobyte.Builder) {
			b.AddBytes(encodedName)
		})

		b.AddASN1Int64(0x10010001)
		b.AddASN1OctetString(encodedValue)
	})
}

func addTime(b *cryptobyte.Builder, tag cbasn1.Tag, layout string, t time.Time) {
	b.AddASN1(tag, func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(t.UTC().Format(layout)))
	})
}
