package tdb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
)

// fileAt is the minimal random-access file interface pageCryptor needs.
// db.go satisfies it both with *os.File directly and with an offsetFile
// wrapper that shifts every call past the plaintext file header.
type fileAt interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// pageCryptor implements component B, the encrypted page layer, as the
// "explicit read/write shim" alternative sanctioned by spec.md §9 (signal-
// handled page faults are not a portable Go design). Callers of the file
// mapper never see ciphertext: DB keeps a plaintext shadow buffer in
// process memory and pageCryptor is only invoked at open (decrypt
// everything once, authenticating every page) and at commit (re-encrypt
// every page of the payload, each with a fresh IV, before it hits disk).
//
// Disk layout per plaintext page: ciphertext (cryptoPageSize bytes)
// followed by a cryptoPageTrailer (IV + truncated HMAC-SHA-256), so each
// plaintext page occupies cryptoPageSize+cryptoPageTrailer bytes on disk.
type pageCryptor struct {
	block   cipher.Block
	hmacKey []byte
}

const (
	cryptoPageSize    = 4096
	cryptoIVSize      = 16
	cryptoHMACSize    = 28
	cryptoPageTrailer = cryptoIVSize + cryptoHMACSize
	cryptoOnDiskPage  = cryptoPageSize + cryptoPageTrailer
)

func newPageCryptor(key []byte) (*pageCryptor, error) {
	if len(key) != 64 {
		return nil, newErr(KindIO, "encryption key must be 64 bytes", nil)
	}

	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, newErr(KindIO, "initialize AES cipher", err)
	}

	hmacKey := make([]byte, 32)
	copy(hmacKey, key[32:64])

	return &pageCryptor{block: block, hmacKey: hmacKey}, nil
}

// encryptedSize returns the on-disk byte length needed to store
// logicalSize plaintext bytes.
func (c *pageCryptor) encryptedSize(logicalSize int64) int64 {
	pages := (logicalSize + cryptoPageSize - 1) / cryptoPageSize
	return pages * cryptoOnDiskPage
}

func (c *pageCryptor) calcHMAC(iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:cryptoHMACSize]
}

// decryptAll reads the whole encrypted file and returns the authenticated
// plaintext, sized to logicalSize (rounded up internally to whole pages,
// trimmed to logicalSize on return). Any HMAC mismatch fails the entire
// open with decryption_failed, per spec.md §4.B.
func (c *pageCryptor) decryptAll(f fileAt, logicalSize int64) (MMap, error) {
	if logicalSize == 0 {
		return MMap{}, nil
	}

	pages := (logicalSize + cryptoPageSize - 1) / cryptoPageSize
	plaintext := make([]byte, pages*cryptoPageSize)

	onDisk := make([]byte, cryptoOnDiskPage)
	for p := int64(0); p < pages; p++ {
		if _, err := f.ReadAt(onDisk, p*cryptoOnDiskPage); err != nil && err != io.EOF {
			return nil, newErr(KindIO, "read encrypted page", err)
		}

		ciphertext := onDisk[:cryptoPageSize]
		iv := onDisk[cryptoPageSize : cryptoPageSize+cryptoIVSize]
		storedMAC := onDisk[cryptoPageSize+cryptoIVSize:]

		if allZero(ciphertext) && allZero(iv) && allZero(storedMAC) {
			continue // never-written page (sparse growth): plaintext is zero, already the default
		}

		expected := c.calcHMAC(iv, ciphertext)
		if !hmac.Equal(expected, storedMAC) {
			return nil, newErr(KindDecryptionFailed, "HMAC mismatch on encrypted page", nil)
		}

		dst := plaintext[p*cryptoPageSize : (p+1)*cryptoPageSize]
		mode := cipher.NewCBCDecrypter(c.block, iv)
		mode.CryptBlocks(dst, ciphertext)
	}

	return MMap(plaintext[:logicalSize]), nil
}

// encryptRegion re-encrypts every page overlapping [startOffset, endOffset)
// of plaintext and writes the ciphertext+trailer to disk with a fresh IV.
func (c *pageCryptor) encryptRegion(f fileAt, plaintext MMap, startOffset, endOffset uint64) error {
	firstPage := startOffset / cryptoPageSize
	lastPage := (endOffset + cryptoPageSize - 1) / cryptoPageSize

	for p := firstPage; p < lastPage; p++ {
		begin := p * cryptoPageSize
		end := begin + cryptoPageSize

		src := make([]byte, cryptoPageSize)
		if begin < uint64(len(plaintext)) {
			n := copy(src, plaintext[begin:min64(end, uint64(len(plaintext)))])
			_ = n
		}

		iv := make([]byte, cryptoIVSize)
		if _, err := rand.Read(iv); err != nil {
			return newErr(KindIO, "generate page IV", err)
		}

		ciphertext := make([]byte, cryptoPageSize)
		mode := cipher.NewCBCEncrypter(c.block, iv)
		mode.CryptBlocks(ciphertext, src)

		mac := c.calcHMAC(iv, ciphertext)

		onDisk := make([]byte, 0, cryptoOnDiskPage)
		onDisk = append(onDisk, ciphertext...)
		onDisk = append(onDisk, iv...)
		onDisk = append(onDisk, mac...)

		if _, err := f.WriteAt(onDisk, int64(p*cryptoOnDiskPage)); err != nil {
			return newErr(KindIO, "write encrypted page", err)
		}
	}

	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
