// Package credentials reads and writes the OAuth section of the Claude
// credential file. Writes merge into the existing JSON document so that keys
// owned by other tools survive.
package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/logger"
)

// Section is the top-level key holding the OAuth record.
const Section = "claudeAiOauth"

var prettyOptions = &pretty.Options{Width: 80, Indent: "  "}

// Store is the file-backed credential store. It holds no state besides the
// path; every call goes to disk.
type Store struct {
	path   string
	logger *zap.Logger
}

func NewStore(path string, l *zap.Logger) *Store {
	return &Store{path: path, logger: logger.OrNop(l)}
}

func (s *Store) Path() string { return s.path }

// Read returns the stored record. Errors are *Error values carrying a Kind.
func (s *Store) Read() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Kind: KindNotFound, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: KindParse, Err: fmt.Errorf("read credentials: %w", err)}
	}
	if !gjson.ValidBytes(data) {
		return nil, &Error{Kind: KindParse, Err: errors.New("credential file is not valid JSON")}
	}

	section := gjson.GetBytes(data, Section)
	if !section.IsObject() {
		return nil, &Error{Kind: KindNoOAuthData}
	}

	var rec Record
	if err := json.Unmarshal([]byte(section.Raw), &rec); err != nil {
		return nil, &Error{Kind: KindParse, Err: fmt.Errorf("parse credentials: %w", err)}
	}
	return &rec, nil
}

// Write merges rec into the OAuth section. Empty SubscriptionType and
// RateLimitTier leave any stored values alone; unknown keys are kept.
func (s *Store) Write(rec *Record) error {
	data, err := s.load()
	if err != nil {
		return err
	}

	if gjson.GetBytes(data, Section).Exists() && !gjson.GetBytes(data, Section).IsObject() {
		if data, err = sjson.DeleteBytes(data, Section); err != nil {
			return fmt.Errorf("reset credential section: %w", err)
		}
	}

	fields := []struct {
		key   string
		value any
		skip  bool
	}{
		{"accessToken", rec.AccessToken, false},
		{"refreshToken", rec.RefreshToken, false},
		{"expiresAt", rec.ExpiresAt, false},
		{"scopes", scopesOrEmpty(rec.Scopes), false},
		{"subscriptionType", rec.SubscriptionType, rec.SubscriptionType == ""},
		{"rateLimitTier", rec.RateLimitTier, rec.RateLimitTier == ""},
	}
	for _, f := range fields {
		if f.skip {
			continue
		}
		data, err = sjson.SetBytes(data, Section+"."+f.key, f.value)
		if err != nil {
			return fmt.Errorf("set %s: %w", f.key, err)
		}
	}

	return s.save(data)
}

// Clear removes the OAuth section and nothing else. A missing file or
// section is not an error and leaves the file untouched.
func (s *Store) Clear() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	if !gjson.ValidBytes(data) {
		s.logger.Warn("credential file is not valid JSON, leaving it alone", zap.String("path", s.path))
		return nil
	}
	if !gjson.GetBytes(data, Section).Exists() {
		return nil
	}

	data, err = sjson.DeleteBytes(data, Section)
	if err != nil {
		return fmt.Errorf("delete credential section: %w", err)
	}
	return s.save(data)
}

// load returns the current document, or an empty object when the file is
// missing or unreadable as JSON.
func (s *Store) load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		s.logger.Warn("replacing malformed credential file", zap.String("path", s.path))
		return []byte("{}"), nil
	}
	return data, nil
}

func (s *Store) save(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	out := pretty.PrettyOptions(data, prettyOptions)
	if err := atomic.WriteFile(s.path, bytes.NewReader(out)); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func scopesOrEmpty(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}
