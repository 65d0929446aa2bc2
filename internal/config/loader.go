package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options controls how a Document is loaded and validated.
type Options struct {
	// Path is the config file to load, YAML or JSON by extension.
	Path string

	// EnableEnvOverrides layers environment variables over the parsed
	// document before validation (strongest precedence).
	EnableEnvOverrides bool
	EnvPrefix          string // default "HOOKSERVICE_"
	PathDelimiter      string // default "__"
	MaxEnvVars         int    // default 256

	MaxFileBytes int64 // default 2 MiB
	MaxDepth     int   // default 32

	OnWarn func(code, detail string)
}

var (
	ErrInvalidOptions = errors.New("config: invalid options")
	ErrNotFound       = errors.New("config: not found")
	ErrFileTooLarge   = errors.New("config: file too large")
	ErrUnsupportedExt = errors.New("config: unsupported extension")
	ErrInvalidSyntax  = errors.New("config: invalid syntax")
	ErrNotObject      = errors.New("config: top-level must be a mapping")
	ErrEnvOverride    = errors.New("config: env override invalid")
	ErrInvalid        = errors.New("config: invalid document")
)

// Loader reads and validates a Document from a single YAML or JSON file.
type Loader struct {
	opts Options
}

func NewLoader(opts Options) (*Loader, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: path required", ErrInvalidOptions)
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 2 * 1024 * 1024
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 32
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "HOOKSERVICE_"
	}
	if opts.PathDelimiter == "" {
		opts.PathDelimiter = "__"
	}
	if opts.MaxEnvVars <= 0 {
		opts.MaxEnvVars = 256
	}
	return &Loader{opts: opts}, nil
}

func (l *Loader) warn(code, detail string) {
	if l != nil && l.opts.OnWarn != nil {
		l.opts.OnWarn(strings.TrimSpace(code), strings.TrimSpace(detail))
	}
}

// Load reads the configured file, applies env overrides, validates the
// result and returns a typed Document.
func (l *Loader) Load(ctx context.Context) (*Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := readBounded(ctx, l.opts.Path, l.opts.MaxFileBytes)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	ext := strings.ToLower(filepath.Ext(l.opts.Path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
	case ".json":
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}
	if obj == nil {
		obj = map[string]any{}
	}

	if l.opts.EnableEnvOverrides {
		overrides, err := l.envOverrides()
		if err != nil {
			return nil, err
		}
		if len(overrides) > 0 {
			obj = deepMergeDeterministic(obj, overrides, l.opts.MaxDepth)
		}
	}

	doc, err := decodeDocument(obj)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	Normalize(doc)
	return doc, nil
}

func decodeDocument(obj map[string]any) (*Document, error) {
	b, err := yaml.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	return &doc, nil
}

func readBounded(ctx context.Context, path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxBytes {
		return nil, ErrFileTooLarge
	}

	lr := &io.LimitedReader{R: f, N: maxBytes + 1}
	raw, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return raw, nil
}

// envOverrides reads HOOKSERVICE_... environment variables into a nested
// map, using PathDelimiter to express dotted paths, mirroring the teacher's
// override convention (e.g. HOOKSERVICE_INBOUND__GITHUB__SECRET=... ->
// {"inbound":{"github":{"secret":"..."}}}).
func (l *Loader) envOverrides() (map[string]any, error) {
	prefix := l.opts.EnvPrefix
	del := l.opts.PathDelimiter
	out := map[string]any{}
	matched := 0

	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		matched++
		if matched > l.opts.MaxEnvVars {
			return nil, fmt.Errorf("%w: too many env vars for prefix %q", ErrEnvOverride, prefix)
		}
		rest := strings.TrimSpace(strings.TrimPrefix(k, prefix))
		if rest == "" {
			l.warn("env.skip.empty_key", k)
			continue
		}
		rawSegs := strings.Split(rest, del)
		segs := make([]string, 0, len(rawSegs))
		for _, s := range rawSegs {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				segs = nil
				break
			}
			segs = append(segs, s)
		}
		if len(segs) == 0 {
			l.warn("env.skip.invalid_segment", k)
			continue
		}
		insertPath(out, segs, parseEnvValue(v))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func insertPath(root map[string]any, segs []string, v any) {
	cur := root
	for i, s := range segs {
		if i == len(segs)-1 {
			cur[s] = v
			return
		}
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
}

func parseEnvValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func deepMergeDeterministic(dst, src map[string]any, maxDepth int) map[string]any {
	return deepMergeDepth(dst, src, 0, maxDepth)
}

func deepMergeDepth(dst, src map[string]any, depth, maxDepth int) map[string]any {
	if maxDepth > 0 && depth > maxDepth {
		return src
	}
	out := make(map[string]any, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sv := src[k]
		if dv, ok := out[k]; ok {
			dm, dok := dv.(map[string]any)
			sm, sok := sv.(map[string]any)
			if dok && sok {
				out[k] = deepMergeDepth(dm, sm, depth+1, maxDepth)
				continue
			}
		}
		out[k] = sv
	}
	return out
}
