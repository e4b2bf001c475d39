package classify

import (
	"fmt"
	"strings"
)

// Token is a recognized keyword, or None.
type Token string

// Vocabulary tokens.
const (
	Hello    Token = "HELLO"
	ThankYou Token = "THANK_YOU"
	Yes      Token = "YES"
	No       Token = "NO"
	Help     Token = "HELP"
	Please   Token = "PLEASE"
	Sorry    Token = "SORRY"
	Stop     Token = "STOP"
	Where    Token = "WHERE"
	Water    Token = "WATER"

	// None is the "no sign" sentinel.
	None Token = "NONE"
)

// Vocabulary is the closed keyword set, sentinel last.
var Vocabulary = []Token{Hello, ThankYou, Yes, No, Help, Please, Sorry, Stop, Where, Water, None}

// Keywords returns the vocabulary as strings.
func Keywords() []string {
	out := make([]string, len(Vocabulary))
	for i, t := range Vocabulary {
		out[i] = string(t)
	}
	return out
}

// ParseToken resolves s (case-insensitive) to a vocabulary token.
func ParseToken(s string) (Token, error) {
	t := Token(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range Vocabulary {
		if v == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown token %q", s)
}

// IsKeyword reports whether t is a vocabulary word other than None.
func (t Token) IsKeyword() bool {
	return t != None && t != "" && t.valid()
}

func (t Token) valid() bool {
	for _, v := range Vocabulary {
		if v == t {
			return true
		}
	}
	return false
}
