package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrCurveNotFound is returned by Library.Get for an unknown curve name.
var ErrCurveNotFound = errors.New("curve not found")

// CurvePoint is the on-disk shape of a control point; Time is "HH:MM" or "HH:MM:SS".
type CurvePoint struct {
	Time        string  `json:"time" yaml:"time"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Stage       string  `json:"stage" yaml:"stage"`
}

// CurveFile is the on-disk shape of a firing curve.
type CurveFile struct {
	Name   string       `json:"name" yaml:"name"`
	Points []CurvePoint `json:"points" yaml:"points"`
}

// ParseClock converts "HH:MM" or "HH:MM:SS" into a duration. Hours may exceed 24.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM or HH:MM:SS", s)
	}
	var fields [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time %q: %q is not a non-negative number", s, p)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid time %q: %d out of range", s, v)
		}
		fields[i] = v
	}
	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second, nil
}

// FormatClock renders d as HH:MM:SS, truncated to whole seconds.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Build converts a curve file into a validated table.
func (f CurveFile) Build() (*Table, error) {
	points := make([]ControlPoint, 0, len(f.Points))
	for i, p := range f.Points {
		at, err := ParseClock(p.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidSchedule, i, err)
		}
		points = append(points, ControlPoint{At: at, TempC: p.Temperature, Stage: p.Stage})
	}
	return New(f.Name, points)
}

// FromTable converts a table back into its on-disk shape.
func FromTable(t *Table) CurveFile {
	pts := t.Points()
	out := CurveFile{Name: t.Name(), Points: make([]CurvePoint, 0, len(pts))}
	for _, p := range pts {
		out.Points = append(out.Points, CurvePoint{
			Time:        FormatClock(p.At),
			Temperature: p.TempC,
			Stage:       p.Stage,
		})
	}
	return out
}

// Library serves named firing curves from a directory of .json/.yaml files,
// loading each lazily and caching the result. Built-in curves are used for
// names that have no file.
type Library struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Table
}

// NewLibrary returns a library rooted at dir. The directory may not exist yet.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, cache: make(map[string]*Table)}
}

// Names lists the available curves, files first merged with built-ins, sorted.
func (l *Library) Names() ([]string, error) {
	seen := make(map[string]struct{})
	for name := range builtinCurves {
		seen[name] = struct{}{}
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read curves dir %q: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := curveName(e.Name()); ok {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ValidName reports whether name can be used as a curve file name inside the
// library directory.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// Get returns the named curve.
func (l *Library) Get(name string) (*Table, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrCurveNotFound, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.cache[name]; ok {
		return t, nil
	}

	t, err := l.loadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		b, ok := builtinCurves[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrCurveNotFound, name)
		}
		t, err = b.Build()
	}
	if err != nil {
		return nil, err
	}
	l.cache[name] = t
	return t, nil
}

// Save writes the curve as <dir>/<name>.json and replaces the cached copy.
func (l *Library) Save(t *Table) error {
	if !ValidName(t.Name()) {
		return fmt.Errorf("%w: bad curve name %q", ErrInvalidSchedule, t.Name())
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create curves dir: %w", err)
	}
	b, err := json.MarshalIndent(FromTable(t), "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, t.Name()+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write curve %q: %w", path, err)
	}

	l.mu.Lock()
	l.cache[t.Name()] = t
	l.mu.Unlock()
	return nil
}

func (l *Library) loadFile(name string) (*Table, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read curve %q: %w", path, err)
		}

		var f CurveFile
		if ext == ".json" {
			err = json.Unmarshal(b, &f)
		} else {
			err = yaml.Unmarshal(b, &f)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse %q: %v", ErrInvalidSchedule, path, err)
		}
		if f.Name == "" {
			f.Name = name
		}
		return f.Build()
	}
	return nil, os.ErrNotExist
}

func curveName(file string) (string, bool) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if strings.HasSuffix(file, ext) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}
