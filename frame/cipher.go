package frame

// KeySource supplies the link cipher key.
type KeySource interface {
	Key() ([]byte, error)
}

// StaticKey is a fixed in-memory key. A nil or empty key disables the cipher.
type StaticKey []byte

// Key returns k.
func (k StaticKey) Key() ([]byte, error) {
	return k, nil
}

// xorKeyStream writes src XOR the repeating key into dst.
// The cipher is symmetric; an empty key copies src unchanged.
func xorKeyStream(dst, src, key []byte) {
	if len(key) == 0 {
		copy(dst, src)
		return
	}
	for i, b := range src {
		dst[i] = b ^ key[i%len(key)]
	}
}
