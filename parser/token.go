package parser

// TokenKind identifies the lexical category of a Token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokEOL
	TokInteger    // also carries the 32-bit bit pattern of a float literal
	TokIdentifier // bare word: mnemonic, label reference, "sp"
	TokDirective  // leading-dot word: ".function", ".define", ...
	TokString     // double-quoted string, escapes already resolved
	TokOperator   // +  -  /  <<  >>  &  |  ^
	TokComma
	TokColon
	TokIndirectMarker // '*' as an operand mode prefix, never a multiply operator
	TokLocalMarker    // '#' as an operand mode prefix
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "EOF"
	case TokEOL:
		return "EOL"
	case TokInteger:
		return "integer"
	case TokIdentifier:
		return "identifier"
	case TokDirective:
		return "directive"
	case TokString:
		return "string"
	case TokOperator:
		return "operator"
	case TokComma:
		return "comma"
	case TokColon:
		return "colon"
	case TokIndirectMarker:
		return "indirect-marker"
	case TokLocalMarker:
		return "local-marker"
	default:
		return "unknown"
	}
}

// Token is one lexical element. Tokens are linked into a doubly-linked
// list (Prev/Next) rather than stored in a flat slice, because the
// preprocessor splices whole runs of tokens in and out of the stream when
// it expands .include directives; a slice would need every downstream
// index fixed up on every splice, a linked list needs neither.
type Token struct {
	Kind    TokenKind
	Pos     Position
	Literal string // identifier/directive/string text, or the operator's spelling
	Int     int32  // integer value, or a float literal's 32-bit bit pattern

	Prev, Next *Token
}

func (t *Token) String() string {
	switch t.Kind {
	case TokInteger:
		return t.Kind.String() + "(" + itoa(int(t.Int)) + ")"
	case TokIdentifier, TokDirective, TokString, TokOperator:
		return t.Kind.String() + "(" + t.Literal + ")"
	default:
		return t.Kind.String()
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TokenList is a doubly-linked token stream with sentinel-free head/tail
// pointers. It supports the splice operations the preprocessor needs:
// removing a run of tokens and replacing it with another list's tokens in
// place.
type TokenList struct {
	Head, Tail *Token
}

// Push appends a token to the end of the list.
func (l *TokenList) Push(t *Token) {
	t.Prev = l.Tail
	t.Next = nil
	if l.Tail != nil {
		l.Tail.Next = t
	} else {
		l.Head = t
	}
	l.Tail = t
}

// Remove unlinks a single token from whichever list it is part of. It does
// not touch l.Head/l.Tail bookkeeping for any list other than the one
// passed in, so callers must pass the list that currently owns t.
func (l *TokenList) Remove(t *Token) {
	if t.Prev != nil {
		t.Prev.Next = t.Next
	} else {
		l.Head = t.Next
	}
	if t.Next != nil {
		t.Next.Prev = t.Prev
	} else {
		l.Tail = t.Prev
	}
	t.Prev, t.Next = nil, nil
}

// SpliceAfter inserts every token of other (which must not be empty) into
// l immediately after anchor. If anchor is nil, other is inserted at the
// head of l. other's own Head/Tail are left pointing at the now-linked
// tokens; other itself should not be reused afterward.
func (l *TokenList) SpliceAfter(anchor *Token, other *TokenList) {
	if other.Head == nil {
		return
	}
	after := (*Token)(nil)
	if anchor != nil {
		after = anchor.Next
	} else {
		after = l.Head
	}

	other.Head.Prev = anchor
	if anchor != nil {
		anchor.Next = other.Head
	} else {
		l.Head = other.Head
	}

	other.Tail.Next = after
	if after != nil {
		after.Prev = other.Tail
	} else {
		l.Tail = other.Tail
	}
}

// Slice materializes the list as a slice, for callers that want to index
// or range over tokens without following Next by hand.
func (l *TokenList) Slice() []*Token {
	var out []*Token
	for t := l.Head; t != nil; t = t.Next {
		out = append(out, t)
	}
	return out
}
