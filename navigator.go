package kvadrere

import (
	"errors"
	"strings"
)

var childDigits = [4]byte{'0', '1', '2', '3'}

// Children returns the four keys one level below k, in digit order.
// Eg. "1023" yields ["10230" "10231" "10232" "10233"].
func (k QuadKey) Children() [4]QuadKey {
	var children [4]QuadKey

	buf := make([]byte, len(k)+1)
	copy(buf, k)
	for i, d := range childDigits {
		buf[len(k)] = d
		children[i] = QuadKey(buf)
	}
	return children
}

// Parent returns the key one level above k. The parent of a single digit
// key is the root "".
func (k QuadKey) Parent() (QuadKey, error) {
	if len(k) == 0 {
		return "", errors.New("root quadkey has no parent")
	}
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k[:len(k)-1], nil
}

// Ancestors returns every proper prefix of k, from the coarsest
// (length 1) to the direct parent.
func (k QuadKey) Ancestors() []QuadKey {
	if len(k) < 2 {
		return nil
	}
	out := make([]QuadKey, 0, len(k)-1)
	for i := 1; i < len(k); i++ {
		out = append(out, k[:i])
	}
	return out
}

// Descendants returns all 4^depth keys depth levels below k in the order
// produced by repeated child expansion.
func (k QuadKey) Descendants(depth int) []QuadKey {
	if depth <= 0 {
		return []QuadKey{k}
	}

	level := []QuadKey{k}
	for range depth {
		next := make([]QuadKey, 0, len(level)*4)
		for _, key := range level {
			children := key.Children()
			next = append(next, children[:]...)
		}
		level = next
	}
	return level
}

// IsAncestorOf reports whether k is a strict prefix of other.
func (k QuadKey) IsAncestorOf(other QuadKey) bool {
	return len(k) < len(other) && strings.HasPrefix(string(other), string(k))
}
