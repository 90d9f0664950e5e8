// Package sun implements NXP's SUN (Secure Unique NFC) message format: the
// AES-128 PICC data decryption and AES-CMAC tag verification a Bolt Card
// emits on every tap.
package sun

import (
	"crypto/aes"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/aead/cmac"
)

var (
	ErrBadPayload = errors.New("picc payload rejected")
	ErrBadMac     = errors.New("cmac verification failed")
)

// subkeyDerivationMessage is CMAC'd under k2 to derive the per-tap CMAC
// subkey, per the NXP SUN specification.
var subkeyDerivationMessage = []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}

// PiccData is the decrypted contents of a tap's 16-byte PICC block.
type PiccData struct {
	UID     [7]byte
	Counter uint32 // 24-bit, little-endian on the wire
}

// Decrypt performs AES-128 ECB decryption of a single 16-byte PICC block
// under k1 and parses it into flags/UID/counter per the NXP SUN layout.
func Decrypt(p []byte, k1 []byte) (PiccData, error) {
	if len(p) != 16 {
		return PiccData{}, fmt.Errorf("%w: picc block must be 16 bytes, got %d", ErrBadPayload, len(p))
	}

	block, err := aes.NewCipher(k1)
	if err != nil {
		return PiccData{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	plain := make([]byte, 16)
	block.Decrypt(plain, p)

	flags := plain[0]
	if flags&0xF0 != 0xC0 {
		return PiccData{}, fmt.Errorf("%w: flags high nibble is 0x%X, want 0xC", ErrBadPayload, flags>>4)
	}

	var picc PiccData
	copy(picc.UID[:], plain[1:8])
	if picc.UID == ([7]byte{}) {
		return PiccData{}, fmt.Errorf("%w: uid is all-zero", ErrBadPayload)
	}

	picc.Counter = uint32(plain[8]) | uint32(plain[9])<<8 | uint32(plain[10])<<16

	return picc, nil
}

// Encrypt is the inverse of Decrypt: it builds and encrypts a PICC block
// for a given uid/counter pair. It exists to let tests construct taps that
// Decrypt must round-trip.
func Encrypt(picc PiccData, k1 []byte) ([]byte, error) {
	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, 16)
	plain[0] = 0xC0
	copy(plain[1:8], picc.UID[:])
	plain[8] = byte(picc.Counter)
	plain[9] = byte(picc.Counter >> 8)
	plain[10] = byte(picc.Counter >> 16)

	cipherText := make([]byte, 16)
	block.Encrypt(cipherText, plain)
	return cipherText, nil
}

// VerifyCmac checks a tap's truncated CMAC tag c against the expected value
// derived from k2, uid and counter. All comparisons are constant-time.
func VerifyCmac(c []byte, k2 []byte, uid [7]byte, counter uint32) error {
	if len(c) != 8 {
		return fmt.Errorf("%w: cmac must be 8 bytes, got %d", ErrBadMac, len(c))
	}

	expected, err := expectedCmac(k2, uid, counter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMac, err)
	}

	if subtle.ConstantTimeCompare(expected, c) != 1 {
		return ErrBadMac
	}
	return nil
}

// ComputeCmac derives the 8-byte truncated tag a genuine card would emit
// for (k2, uid, counter). Used by VerifyCmac and by tests that synthesize
// reference taps.
func ComputeCmac(k2 []byte, uid [7]byte, counter uint32) ([]byte, error) {
	return expectedCmac(k2, uid, counter)
}

func expectedCmac(k2 []byte, uid [7]byte, counter uint32) ([]byte, error) {
	block, err := aes.NewCipher(k2)
	if err != nil {
		return nil, err
	}

	subkey, err := cmac.Sum(subkeyDerivationMessage, block, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("subkey derivation: %w", err)
	}

	subkeyBlock, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 10)
	copy(msg[:7], uid[:])
	msg[7] = byte(counter)
	msg[8] = byte(counter >> 8)
	msg[9] = byte(counter >> 16)

	tag, err := cmac.Sum(msg, subkeyBlock, subkeyBlock.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("tag computation: %w", err)
	}

	truncated := make([]byte, 8)
	for i := 0; i < 8; i++ {
		truncated[i] = tag[2*i+1]
	}
	return truncated, nil
}
