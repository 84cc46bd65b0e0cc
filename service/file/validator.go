// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize matches the historical 10 MiB upload ceiling.
const DefaultMaxFileSize = 10 << 20

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,16}$`)

// TypeRule pairs a MIME type with the extensions accepted for it. MIME may
// end in "/*" to cover a whole top level type.
type TypeRule struct {
	MIME       string
	Extensions []string
}

func (r TypeRule) matchesMIME(m string) bool {
	if prefix, ok := strings.CutSuffix(r.MIME, "/*"); ok {
		return strings.HasPrefix(m, prefix+"/")
	}
	return r.MIME == m
}

// Policy is the set of limits an upload is checked against.
type Policy struct {
	MaxSize int64
	// Allowed disables type filtering when empty.
	Allowed []TypeRule
	// Sniff enables a content based type check on top of the declared one.
	Sniff bool
}

// ParseAllowedTypes reads entries of the form "image/jpeg:.jpg,.jpeg". An
// entry that is only an extension list continues the previous entry, so a
// list that went through a comma split still parses.
func ParseAllowedTypes(entries []string) ([]TypeRule, error) {
	var rules []TypeRule
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		var exts string
		if strings.HasPrefix(entry, ".") {
			if len(rules) == 0 {
				return nil, fmt.Errorf("allowed type %q has no MIME type", entry)
			}
			exts = entry
		} else {
			m, e, ok := strings.Cut(entry, ":")
			if !ok || !strings.Contains(m, "/") {
				return nil, fmt.Errorf("allowed type %q must look like mime/type:.ext", entry)
			}
			rules = append(rules, TypeRule{MIME: normalizeMIME(m)})
			exts = e
		}

		last := &rules[len(rules)-1]
		for _, ext := range strings.Split(exts, ",") {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !extPattern.MatchString(ext) {
				return nil, fmt.Errorf("allowed type %q: invalid extension %q", entry, ext)
			}
			last.Extensions = append(last.Extensions, ext)
		}
	}

	for _, r := range rules {
		if len(r.Extensions) == 0 {
			return nil, fmt.Errorf("allowed type %q lists no extensions", r.MIME)
		}
	}
	return rules, nil
}

// Validator checks uploads against a Policy. The policy can be swapped at
// runtime, e.g. from the config watcher; checks in flight keep the policy
// they started with.
type Validator struct {
	policy atomic.Pointer[Policy]
}

func NewValidator(p Policy) *Validator {
	v := &Validator{}
	v.SetPolicy(p)
	return v
}

func (v *Validator) SetPolicy(p Policy) {
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxFileSize
	}
	p.Allowed = slices.Clone(p.Allowed)
	v.policy.Store(&p)
}

func (v *Validator) Policy() Policy {
	return *v.policy.Load()
}

// Validate checks a fully received upload of n bytes.
func (v *Validator) Validate(name, mimeType string, n int64) error {
	p := v.policy.Load()
	if n <= 0 {
		return &ValidationError{Reason: ReasonNoPayload}
	}
	if n > p.MaxSize {
		return tooLarge(p.MaxSize)
	}
	return checkType(p, name, mimeType)
}

// CheckType checks the declared name and MIME type against the allow-list.
// It needs no payload, so callers can reject a file before reading it.
func (v *Validator) CheckType(name, mimeType string) error {
	return checkType(v.policy.Load(), name, mimeType)
}

func checkType(p *Policy, name, mimeType string) error {
	if len(p.Allowed) == 0 {
		return nil
	}
	m, ext := normalizeMIME(mimeType), Extension(name)
	for _, rule := range p.Allowed {
		if rule.matchesMIME(m) && slices.Contains(rule.Extensions, ext) {
			return nil
		}
	}
	return &ValidationError{Reason: ReasonTypeNotAllowed}
}

// Sniff detects the type of the content read from r and checks it against
// the allow-list. It returns the content type to record: the declared one,
// or the detected one when the client declared nothing useful.
func (v *Validator) Sniff(declared string, r io.Reader) (string, error) {
	p := v.policy.Load()
	declared = normalizeMIME(declared)
	if !p.Sniff {
		return declared, nil
	}

	detected, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}

	if len(p.Allowed) > 0 && !sniffAllowed(p.Allowed, detected) {
		return "", &ValidationError{
			Reason: ReasonTypeNotAllowed,
			Detail: "File content does not match an allowed type.",
		}
	}
	if declared == "" || declared == "application/octet-stream" {
		return detected.String(), nil
	}
	return declared, nil
}

// sniffAllowed accepts the detected type or any of its parents, so a CSV
// file is accepted where text/plain is.
func sniffAllowed(rules []TypeRule, detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		name := normalizeMIME(m.String())
		for _, rule := range rules {
			if rule.matchesMIME(name) || m.Is(rule.MIME) {
				return true
			}
		}
	}
	return false
}

// LimitReader wraps r so that reading past the size ceiling fails with a
// TooLarge ValidationError, without reading more than one extra byte.
func (v *Validator) LimitReader(r io.Reader) io.Reader {
	limit := v.policy.Load().MaxSize
	return &limitedReader{r: r, left: limit, limit: limit}
}

type limitedReader struct {
	r     io.Reader
	left  int64
	limit int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, tooLarge(l.limit)
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n + int(l.left), tooLarge(l.limit)
	}
	return n, err
}

func tooLarge(limit int64) *ValidationError {
	return &ValidationError{
		Reason: ReasonTooLarge,
		Detail: fmt.Sprintf("File is too large. The limit is %s.", humanize.IBytes(uint64(limit))),
	}
}

// Extension returns the lower-cased extension of a client supplied name, or
// "" when it is missing or not a short alphanumeric suffix.
func Extension(name string) string {
	name = name[strings.LastIndexAny(name, `/\`)+1:]
	ext := strings.ToLower(filepath.Ext(name))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

func normalizeMIME(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m, _, err := mime.ParseMediaType(s); err == nil {
		return m
	}
	base, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
