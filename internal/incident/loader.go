package incident

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// DefaultMaxFileSize is the size cap used when Config.MaxFileSize is zero.
const DefaultMaxFileSize int64 = 1 << 20

// Config bounds which files the Loader may read.
type Config struct {
	// AllowedDirectory is the only tree files may be read from.
	AllowedDirectory string
	// AllowedExtensions are matched case-insensitively, with the leading dot.
	AllowedExtensions []string
	// MaxFileSize in bytes; 0 means DefaultMaxFileSize.
	MaxFileSize int64
}

// Loader reads incident files under the constraints of a Config.
type Loader struct {
	cfg Config
	now func() time.Time
}

// Option customizes a Loader.
type Option func(*Loader)

// WithClock overrides the time source used for the timestamp skew check.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// NewLoader creates a Loader. Missing limits fall back to their defaults.
func NewLoader(cfg Config, opts ...Option) *Loader {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".json"}
	}
	l := &Loader{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves path, enforces the directory, extension and size rules, and
// parses the file into a validated Record.
func (l *Loader) Load(path string) (Record, error) {
	resolved, info, err := l.resolve(path)
	if err != nil {
		return Record{}, err
	}

	if info.Size() > l.cfg.MaxFileSize {
		return Record{}, failure.New(failure.TooLarge, "load",
			"%s is %d bytes, limit is %d", filepath.Base(resolved), info.Size(), l.cfg.MaxFileSize)
	}
	if info.Size() == 0 {
		return Record{}, failure.New(failure.Empty, "load", "%s is empty", filepath.Base(resolved))
	}

	data, err := l.read(resolved)
	if err != nil {
		return Record{}, err
	}

	return l.parse(data)
}

// resolve canonicalizes path and applies the NotFound and Forbidden rules.
func (l *Loader) resolve(path string) (string, os.FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil, failure.New(failure.NotFound, "load", "no incident file given")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, failure.Wrap(failure.NotFound, "load", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, failure.New(failure.NotFound, "load", "%s does not exist", abs)
		}
		return "", nil, failure.Wrap(failure.NotFound, "load", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, failure.Wrap(failure.NotFound, "load", err)
	}
	if !info.Mode().IsRegular() {
		return "", nil, failure.New(failure.NotFound, "load", "%s is not a regular file", resolved)
	}

	if !l.extensionAllowed(resolved) {
		return "", nil, failure.New(failure.Forbidden, "load",
			"extension %q is not allowed", filepath.Ext(resolved))
	}

	root, err := canonicalDir(l.cfg.AllowedDirectory)
	if err != nil {
		return "", nil, failure.Wrap(failure.Forbidden, "load", fmt.Errorf("allowed directory: %w", err))
	}
	if !hasPathPrefix(resolved, root) {
		return "", nil, failure.New(failure.Forbidden, "load", "path is outside the allowed directory")
	}

	return resolved, info, nil
}

func (l *Loader) extensionAllowed(path string) bool {
	ext := filepath.Ext(path)
	for _, allowed := range l.cfg.AllowedExtensions {
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// read loads at most MaxFileSize+1 bytes so a file that grew after the stat
// is still rejected.
func (l *Loader) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.NotFound, "load", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, l.cfg.MaxFileSize+1))
	if err != nil {
		return nil, failure.Wrap(failure.MalformedInput, "load", fmt.Errorf("read: %w", err))
	}
	if int64(len(data)) > l.cfg.MaxFileSize {
		return nil, failure.New(failure.TooLarge, "load", "file grew beyond %d bytes while reading", l.cfg.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, failure.New(failure.Empty, "load", "file is empty")
	}
	return data, nil
}

// parse decodes exactly one JSON object and validates every field.
func (l *Loader) parse(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return Record{}, failure.New(failure.MalformedInput, "load", "not a JSON object: %s", describeJSONError(err))
	}
	if raw == nil {
		return Record{}, failure.New(failure.MalformedInput, "load", "not a JSON object: null")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, failure.New(failure.MalformedInput, "load", "unexpected data after the JSON object")
	}

	fields, violations := foldKeys(raw)
	v := &validator{fields: fields, violations: violations}

	rec := Record{
		AlertID:     v.alertID(),
		AlertType:   v.alertType(),
		Severity:    v.severity(),
		Description: v.description(),
		Timestamp:   v.timestamp(l.now()),
		Metadata:    v.metadata(),
	}

	if len(v.violations) > 0 {
		return Record{}, &failure.Error{
			Kind:       failure.ValidationFailed,
			Op:         "load",
			Msg:        fmt.Sprintf("%d field(s) invalid", len(v.violations)),
			Violations: v.violations,
		}
	}
	return rec, nil
}

// describeJSONError keeps syntax errors free of input excerpts.
func describeJSONError(err error) string {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Sprintf("syntax error at offset %d", syn.Offset)
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return "top-level value is a " + typ.Value
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "unexpected end of input"
	}
	return "invalid JSON"
}

// knownFields maps folded keys to their canonical spelling.
var knownFields = map[string]string{
	"alertid":     "alertId",
	"alerttype":   "alertType",
	"severity":    "severity",
	"description": "description",
	"timestamp":   "timestamp",
	"metadata":    "metadata",
}

// foldKeys lower-cases object keys. Known fields that appear more than once
// after folding are reported under their canonical name. Keys are visited in
// sorted order so the first spelling wins deterministically.
func foldKeys(raw map[string]json.RawMessage) (map[string]json.RawMessage, []failure.Violation) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]json.RawMessage, len(raw))
	counts := make(map[string]int, len(raw))
	for _, k := range keys {
		lk := strings.ToLower(k)
		counts[lk]++
		if counts[lk] == 1 {
			out[lk] = raw[k]
		}
	}

	var violations []failure.Violation
	for _, lk := range sortedKeys(counts) {
		name, known := knownFields[lk]
		if n := counts[lk]; n > 1 && known {
			violations = append(violations, failure.Violation{
				Field:   name,
				Message: fmt.Sprintf("appears %d times with different letter case", n),
			})
		}
	}
	return out, violations
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validator decodes individual fields and accumulates violations.
type validator struct {
	fields     map[string]json.RawMessage
	violations []failure.Violation
}

func (v *validator) fail(field, format string, args ...interface{}) {
	v.violations = append(v.violations, failure.Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

// str decodes a string field. present is false for a missing key or JSON null.
func (v *validator) str(field string) (s string, present bool, ok bool) {
	raw, exists := v.fields[strings.ToLower(field)]
	if !exists || isNull(raw) {
		return "", false, true
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		v.fail(field, "must be a string")
		return "", true, false
	}
	return s, true, true
}

func (v *validator) required(field string) (string, bool) {
	s, present, ok := v.str(field)
	if !ok {
		return "", false
	}
	if !present || strings.TrimSpace(s) == "" {
		v.fail(field, "is required")
		return "", false
	}
	return s, true
}

func (v *validator) alertID() string {
	s, ok := v.required("alertId")
	if !ok {
		return ""
	}
	if n := utf8.RuneCountInString(s); n > MaxAlertIDLength {
		v.fail("alertId", "must be at most %d characters, got %d", MaxAlertIDLength, n)
	}
	return s
}

func (v *validator) alertType() AlertType {
	s, ok := v.required("alertType")
	if !ok {
		return ""
	}
	t, err := ParseAlertType(strings.TrimSpace(s))
	if err != nil {
		v.fail("alertType", "%v", err)
	}
	return t
}

func (v *validator) severity() Severity {
	s, ok := v.required("severity")
	if !ok {
		return 0
	}
	sev, err := ParseSeverity(strings.TrimSpace(s))
	if err != nil {
		v.fail("severity", "%v", err)
	}
	return sev
}

func (v *validator) description() string {
	s, _, ok := v.str("description")
	if !ok {
		return ""
	}
	if n := utf8.RuneCountInString(s); n > MaxDescriptionLength {
		v.fail("description", "must be at most %d characters, got %d", MaxDescriptionLength, n)
	}
	return s
}

// timestampLayouts are tried in order; zone-less forms are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (v *validator) timestamp(now time.Time) time.Time {
	s, ok := v.required("timestamp")
	if !ok {
		return time.Time{}
	}
	var ts time.Time
	var err error
	for _, layout := range timestampLayouts {
		ts, err = time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			break
		}
	}
	if err != nil {
		v.fail("timestamp", "must be an ISO-8601 date-time")
		return time.Time{}
	}
	if ts.After(now.Add(MaxClockSkew)) {
		v.fail("timestamp", "is more than %s in the future", MaxClockSkew)
	}
	return ts
}

func (v *validator) metadata() map[string]string {
	raw, exists := v.fields["metadata"]
	if !exists || isNull(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		v.fail("metadata", "must be an object of strings")
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(obj))
	for _, k := range keys {
		var s string
		if err := json.Unmarshal(obj[k], &s); err != nil {
			v.fail("metadata."+k, "must be a string")
			continue
		}
		out[k] = s
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// canonicalDir returns dir as an absolute, symlink-free path.
func canonicalDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// hasPathPrefix reports whether path lies in root, comparing whole
// path components.
func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
