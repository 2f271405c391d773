package maintainers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseError reports a package index that could not be read, with the
// location inside the document where reading stopped.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to deserialize package metadata at %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(loc string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Path: loc, Err: err}
}

// step is one segment of a path below a value. An empty key matches every
// element of an array.
type step struct {
	key string
}

func member(key string) step { return step{key: key} }

var anyElement = step{}

// visitFunc is called with the decoder positioned before a matched value.
// It must consume exactly that value.
type visitFunc func(dec *json.Decoder, loc string) error

// seek walks the next value in dec and calls visit for every value at path
// below it. Missing members and values of the wrong shape are skipped
// token by token, so unmatched subtrees are never held in memory.
func seek(dec *json.Decoder, path []step, loc string, visit visitFunc) error {
	if len(path) == 0 {
		return visit(dec, loc)
	}

	tok, err := dec.Token()
	if err != nil {
		return parseErr(loc, err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	next := path[0]
	switch {
	case delim == '{' && next.key != "":
		for dec.More() {
			key, err := readKey(dec, loc)
			if err != nil {
				return err
			}
			if key == next.key {
				err = seek(dec, path[1:], loc+"."+key, visit)
			} else {
				err = skipValue(dec, loc+"."+key)
			}
			if err != nil {
				return err
			}
		}
		return expectDelim(dec, '}', loc)
	case delim == '[' && next.key == "":
		for i := 0; dec.More(); i++ {
			if err := seek(dec, path[1:], fmt.Sprintf("%s[%d]", loc, i), visit); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']', loc)
	default:
		return skipOpen(dec, loc)
	}
}

// readKey reads an object member name.
func readKey(dec *json.Decoder, loc string) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", parseErr(loc, err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", parseErr(loc, fmt.Errorf("expected member name, got %v", tok))
	}
	return key, nil
}

// expectDelim consumes the next token and checks it is d.
func expectDelim(dec *json.Decoder, d json.Delim, loc string) error {
	tok, err := dec.Token()
	if err != nil {
		return parseErr(loc, err)
	}
	if got, ok := tok.(json.Delim); !ok || got != d {
		return parseErr(loc, fmt.Errorf("expected %q, got %v", d, tok))
	}
	return nil
}

// skipValue consumes the next value, whatever its shape.
func skipValue(dec *json.Decoder, loc string) error {
	tok, err := dec.Token()
	if err != nil {
		return parseErr(loc, err)
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		return skipOpen(dec, loc)
	}
	return nil
}

// skipOpen consumes the rest of a container whose opening delimiter was
// already read.
func skipOpen(dec *json.Decoder, loc string) error {
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return parseErr(loc, err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
