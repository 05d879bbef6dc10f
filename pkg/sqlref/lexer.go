package sqlref

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenPunct
)

type token struct {
	typ    tokenType
	text   string
	quoted bool
}

// upper returns the keyword form of an unquoted identifier.
func (t token) upper() string {
	if t.typ != tokenIdent || t.quoted {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) is(punct string) bool {
	return t.typ == tokenPunct && t.text == punct
}

// lexer tokenizes SQL text. It understands the quoting styles of the
// warehouses we read from: "ansi", `backtick` and [bracket] identifiers.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) eof() bool {
	return l.pos >= len(l.input)
}

// tokenize returns every token up to EOF, or an error on unterminated
// strings, quoted identifiers and block comments.
func tokenize(input string) ([]token, error) {
	l := newLexer(input)
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		if tok.typ == tokenEOF {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

func (l *lexer) next() (token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return token{}, err
	}
	if l.eof() {
		return token{typ: tokenEOF}, nil
	}

	switch {
	case l.ch == '\'':
		s, err := l.readQuoted('\'')
		return token{typ: tokenString, text: s}, err
	case l.ch == '"':
		s, err := l.readQuoted('"')
		return token{typ: tokenIdent, text: s, quoted: true}, err
	case l.ch == '`':
		s, err := l.readQuoted('`')
		return token{typ: tokenIdent, text: s, quoted: true}, err
	case l.ch == '[':
		s, err := l.readQuoted(']')
		return token{typ: tokenIdent, text: s, quoted: true}, err
	case isLetter(l.ch):
		return token{typ: tokenIdent, text: l.readIdent()}, nil
	case isDigit(l.ch):
		return token{typ: tokenNumber, text: l.readNumber()}, nil
	default:
		ch := l.ch
		l.readChar()
		return token{typ: tokenPunct, text: string(ch)}, nil
	}
}

func (l *lexer) skipWhitespaceAndComments() error {
	for !l.eof() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for !l.eof() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			start := l.pos
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.eof() {
					return fmt.Errorf("unterminated block comment at offset %d", start)
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return nil
		}
	}
	return nil
}

// readQuoted reads up to the closing delimiter; a doubled delimiter escapes itself.
func (l *lexer) readQuoted(closing byte) (string, error) {
	start := l.pos
	l.readChar()
	var sb strings.Builder
	for {
		if l.eof() {
			return "", fmt.Errorf("unterminated quote at offset %d", start)
		}
		if l.ch == closing {
			if l.peekChar() == closing {
				sb.WriteByte(closing)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return sb.String(), nil
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
}

func (l *lexer) readIdent() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
