package masking

import "strconv"

// SecureString wraps a sensitive value so it cannot leak through fmt
// verbs, logging or JSON marshalling. While masked, every rendering path
// yields the placeholder; Expose returns the wrapped value byte for byte.
type SecureString struct {
	value  string
	masked bool
}

const securePlaceholder = "***SECURE***"

// NewSecureString wraps value in masked state.
func NewSecureString(value string) SecureString {
	return SecureString{value: value, masked: true}
}

// Expose returns the wrapped value unchanged.
func (s SecureString) Expose() string { return s.value }

// IsMasked reports whether rendering paths currently hide the value.
func (s SecureString) IsMasked() bool { return s.masked }

// Unmasked returns a copy whose String/GoString render the raw value.
func (s SecureString) Unmasked() SecureString {
	return SecureString{value: s.value, masked: false}
}

// String implements fmt.Stringer.
func (s SecureString) String() string {
	if s.masked {
		return securePlaceholder
	}
	return s.value
}

// GoString implements fmt.GoStringer, covering the %#v verb.
func (s SecureString) GoString() string {
	if s.masked {
		return `masking.SecureString("` + securePlaceholder + `")`
	}
	return `masking.SecureString("` + s.value + `")`
}

// MarshalJSON renders the placeholder while masked.
func (s SecureString) MarshalJSON() ([]byte, error) {
	if s.masked {
		return []byte(strconv.Quote(securePlaceholder)), nil
	}
	return []byte(strconv.Quote(s.value)), nil
}
