// Package gate screens decoded QR strings before they reach the offline
// queue: it normalizes and validates the text and suppresses repeat scans.
package gate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	// ErrInvalidQR rejects input that cannot be a QR/subscription code.
	ErrInvalidQR = errors.New("invalid QR code")
	// ErrDuplicateScan rejects a repeat of a code seen within the debounce window.
	ErrDuplicateScan = errors.New("duplicate scan")
)

// DefaultWindow is the cool-down applied to repeat scans of the same code.
const DefaultWindow = time.Second

// DefaultPattern accepts printable ASCII without spaces, which covers the
// opaque IDs and URLs printed on member cards.
var DefaultPattern = regexp.MustCompile(`^[\x21-\x7E]{1,256}$`)

// Gate is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	window  time.Duration
	pattern *regexp.Regexp
	now     func() time.Time
	seen    map[string]time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithWindow sets the debounce window. Zero disables suppression.
func WithWindow(d time.Duration) Option {
	return func(g *Gate) { g.window = d }
}

// WithPattern replaces DefaultPattern.
func WithPattern(re *regexp.Regexp) Option {
	return func(g *Gate) { g.pattern = re }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New returns a Gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		window:  DefaultWindow,
		pattern: DefaultPattern,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Normalize folds scanner output to the canonical code: full-width
// characters become ASCII, compatibility forms are decomposed, control
// characters and surrounding whitespace are dropped.
func Normalize(raw string) string {
	s := width.Narrow.String(raw)
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Validate normalizes raw and checks its shape.
func (g *Gate) Validate(raw string) (string, error) {
	code := Normalize(raw)
	if code == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidQR)
	}
	if !g.pattern.MatchString(code) {
		return "", fmt.Errorf("%w: unexpected format", ErrInvalidQR)
	}
	return code, nil
}

// Admit validates raw and applies the debounce. It returns the normalized
// code when the scan should proceed. A suppressed repeat extends the
// cool-down, so a code held in front of the camera is admitted once.
func (g *Gate) Admit(raw string) (string, error) {
	code, err := g.Validate(raw)
	if err != nil {
		return "", err
	}
	if g.window <= 0 {
		return code, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)
	if last, ok := g.seen[code]; ok && now.Sub(last) < g.window {
		g.seen[code] = now
		return "", ErrDuplicateScan
	}
	g.seen[code] = now
	return code, nil
}

// Forget drops the cool-down of code, e.g. after the staff member
// explicitly asked to rescan.
func (g *Gate) Forget(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, Normalize(code))
}

func (g *Gate) prune(now time.Time) {
	for code, last := range g.seen {
		if now.Sub(last) >= g.window {
			delete(g.seen, code)
		}
	}
}
