package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"time"
)

const (
	licenceAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	licenceTokenLength = 8
	// largest multiple of len(licenceAlphabet) that fits in a byte; bytes above it are redrawn
	licenceByteLimit = 256 - 256%len(licenceAlphabet)
)

var licenceNumberPattern = regexp.MustCompile(`^PL-\d{4}-[0-9A-Z]{8}$`)

// LicenceNumberGenerator issues provisional licence numbers of the form PL-<year>-<token>.
type LicenceNumberGenerator struct {
	random io.Reader
	now    func() time.Time
}

// NewLicenceNumberGenerator builds a generator reading from crypto/rand.
func NewLicenceNumberGenerator(clock func() time.Time) *LicenceNumberGenerator {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &LicenceNumberGenerator{random: rand.Reader, now: clock}
}

// Next returns a fresh licence number.
func (g *LicenceNumberGenerator) Next() (string, error) {
	token := make([]byte, 0, licenceTokenLength)
	buf := make([]byte, licenceTokenLength*2)
	for len(token) < licenceTokenLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("read licence entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= licenceByteLimit {
				continue
			}
			token = append(token, licenceAlphabet[int(b)%len(licenceAlphabet)])
			if len(token) == licenceTokenLength {
				break
			}
		}
	}
	return fmt.Sprintf("PL-%04d-%s", g.now().Year(), token), nil
}

// ValidLicenceNumber reports whether s has the provisional licence number shape.
func ValidLicenceNumber(s string) bool {
	return licenceNumberPattern.MatchString(s)
}
