package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.47":                    "192.168.1.0",
		"172.16.50.255":                   "172.16.50.0",
		"::ffff:10.1.2.3":                 "10.1.2.0",
		"2001:db8:85a3::8a2e:370:7334":    "2001:db8:85a3::",
		"2001:db8:85a3:0:0:8a2e:370:7334": "2001:db8:85a3::",
		"fe80::1%eth0":                    "fe80::",
		"::1":                             "::",
		"":                                "unknown",
		"unknown":                         "unknown",
		"not-an-ip":                       "invalid",
		"192.168.1":                       "invalid",
		"192.168.1.1:8080":                "invalid",
	}
	for in, want := range cases {
		assert.Equal(t, want, AnonymizeIP(in), "AnonymizeIP(%q)", in)
	}
}

func TestHolderToken(t *testing.T) {
	assert.Empty(t, HolderToken(""))
	tok := HolderToken("holder-0001")
	assert.Len(t, tok, 16)
	assert.Equal(t, tok, HolderToken("holder-0001"))
	assert.NotEqual(t, tok, HolderToken("holder-0002"))
}
