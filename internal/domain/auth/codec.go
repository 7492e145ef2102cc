package auth

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrEmptySession is returned when decoding a blank stored value.
var ErrEmptySession = errors.New("empty session value")

// EncodeSession serializes a session for a storage key.
func EncodeSession(s Session) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses a stored value. Both the JSON object form and a bare
// token string are accepted.
func DecodeSession(raw []byte) (*Session, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptySession
	}
	if raw[0] != '{' {
		var token string
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &token); err != nil {
				return nil, err
			}
		} else {
			token = string(raw)
		}
		if token == "" {
			return nil, ErrEmptySession
		}
		return &Session{AccessToken: token}, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, ErrEmptySession
	}
	return &s, nil
}
