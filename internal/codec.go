package internal

import (
	"github.com/bytedance/sonic"
)

// encodeBook and decodeBook are the canonical-book wire codec shared
// by L1 and the object cache: both tiers store the same JSON blob
// shape, so a hit in either one can warm the other without a format
// conversion. sonic mirrors the upstream's own choice of JSON codec
// for its cached resource bytes.
func encodeBook(b CanonicalBook) ([]byte, error) {
	out, err := sonic.ConfigStd.Marshal(b)
	if err != nil {
		return nil, NewError(KindParseError, "encoding canonical book", err)
	}
	return out, nil
}

func decodeBook(raw []byte) (CanonicalBook, error) {
	var b CanonicalBook
	if err := sonic.ConfigStd.Unmarshal(raw, &b); err != nil {
		return CanonicalBook{}, NewError(KindParseError, "decoding canonical book", err)
	}
	return b, nil
}
