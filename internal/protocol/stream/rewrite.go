package stream

import "strings"

// KeyRewriter rewrites a JSON object key token inside streamed argument
// fragments. Fragment boundaries may split the key literal, so the longest
// tail of each fragment that is a prefix of the token (at most len(token)-1
// bytes) is carried over and prepended to the next one. Substitution works
// on the quoted `"key":` token only and is idempotent.
type KeyRewriter struct {
	from  string
	to    string
	carry string
}

// NewKeyRewriter builds a rewriter that turns `"upstreamKey":` into
// `"clientKey":`.
func NewKeyRewriter(upstreamKey, clientKey string) *KeyRewriter {
	return &KeyRewriter{
		from: `"` + upstreamKey + `":`,
		to:   `"` + clientKey + `":`,
	}
}

// Rewrite consumes one fragment and returns the bytes safe to emit now.
// Bytes that could be the start of a split key token are withheld until the
// next fragment or Flush.
func (r *KeyRewriter) Rewrite(fragment string) string {
	s := r.carry + fragment
	s = strings.ReplaceAll(s, r.from, r.to)

	keep := r.suffixOverlap(s)
	r.carry = s[len(s)-keep:]
	return s[:len(s)-keep]
}

// Flush returns any withheld bytes. Call when the block closes.
func (r *KeyRewriter) Flush() string {
	c := r.carry
	r.carry = ""
	return c
}

// suffixOverlap finds the longest proper prefix of the key token that is a
// suffix of s. Those bytes might complete into the token on the next
// fragment.
func (r *KeyRewriter) suffixOverlap(s string) int {
	max := len(r.from) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, r.from[:k]) {
			return k
		}
	}
	return 0
}
