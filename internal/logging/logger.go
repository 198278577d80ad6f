// Package logging provides the namespaced debug logger used throughout
// Aperture's subsystems. It is controlled entirely by environment variables
// so that a stateless, sub-10ms CLI invocation never pays for a logging
// framework it doesn't need.
package logging

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger is a namespaced logger gated by APERTURE_LOG.
type Logger struct {
	namespace string
	enabled   bool
	lastLog   time.Time
	mu        sync.Mutex
	color     string
}

// patternRule is one compiled term of APERTURE_LOG: a namespace glob plus
// whether it negates (a leading "-") rather than enables.
type patternRule struct {
	negate bool
	re     *regexp.Regexp
}

var (
	logEnv      = os.Getenv("APERTURE_LOG")
	logColors   = os.Getenv("NO_COLOR") == ""
	logFormat   = strings.ToLower(os.Getenv("APERTURE_LOG_FORMAT")) // "text" (default) or "json"
	logMaxBody  = parseMaxBody(os.Getenv("APERTURE_LOG_MAX_BODY"))
	logRedactOn = os.Getenv("APERTURE_LOG_REDACT") != "0" // redaction is on by default

	sinkMu  sync.Mutex
	sink    io.Writer = os.Stderr
	sinkSet           = false

	isTTY = isatty.IsTerminal(os.Stderr.Fd())

	colorPalette = []string{
		"\033[38;5;33m", "\033[38;5;35m", "\033[38;5;166m", "\033[38;5;125m",
		"\033[38;5;37m", "\033[38;5;161m", "\033[38;5;136m", "\033[38;5;124m",
	}
	colorReset = "\033[0m"
)

func parseMaxBody(s string) int {
	if s == "" {
		return 2048
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 2048
	}
	return n
}

// outputSink resolves APERTURE_LOG_FILE lazily so that package init never
// touches the filesystem on the common no-logging path.
func outputSink() io.Writer {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkSet {
		return sink
	}
	sinkSet = true
	if path := os.Getenv("APERTURE_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			sink = f
		}
	}
	return sink
}

// New creates a Logger for namespace. Enabled state is computed once, at
// construction time, from APERTURE_LOG — the same DEBUG-style syntax:
//
//	APERTURE_LOG=*                enables everything
//	APERTURE_LOG=retry:*          enables a namespace
//	APERTURE_LOG=retry:*,-retry:verbose  excludes a sub-pattern
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   computeEnabled(namespace),
		lastLog:   time.Now(),
		color:     selectColor(namespace),
	}
}

// selectColor picks a palette entry from a bit-mixed FNV-1a hash, so two
// namespaces that share a common prefix (Aperture's "pkg:sub" convention
// produces a lot of these) don't cluster on adjacent hash buckets.
func selectColor(namespace string) string {
	if !logColors || !isTTY {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(namespace))
	mixed := h.Sum32()
	mixed ^= mixed >> 15
	return colorPalette[mixed%uint32(len(colorPalette))]
}

// Enabled reports whether this logger will emit anything.
func (l *Logger) Enabled() bool { return l.enabled }

// Printf logs a formatted message, redacting secret-shaped tokens unless
// APERTURE_LOG_REDACT=0.
func (l *Logger) Printf(format string, args ...any) {
	l.emit(fmt.Sprintf(format, args...))
}

// Print logs a message built like fmt.Sprint.
func (l *Logger) Print(args ...any) {
	l.emit(fmt.Sprint(args...))
}

// LazyPrintf only evaluates fn when the logger is enabled, for expensive
// payloads (e.g. full request/response bodies).
func (l *Logger) LazyPrintf(fn func() string) {
	if !l.enabled {
		return
	}
	l.emit(fn())
}

func (l *Logger) emit(message string) {
	if !l.enabled {
		return
	}
	if logRedactOn {
		message = Redact(message)
	}
	message = truncateBody(message, logMaxBody)

	l.mu.Lock()
	now := time.Now()
	diff := now.Sub(l.lastLog)
	l.lastLog = now
	l.mu.Unlock()

	w := outputSink()
	if logFormat == "json" {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ts":        now.UTC().Format(time.RFC3339Nano),
			"namespace": l.namespace,
			"message":   message,
		})
		return
	}

	if l.color != "" {
		fmt.Fprintf(w, "%s%s%s %s +%s\n", l.color, l.namespace, colorReset, message, formatDuration(diff))
	} else {
		fmt.Fprintf(w, "%s %s +%s\n", l.namespace, message, formatDuration(diff))
	}
}

// truncateBody caps message at max bytes, appending a note of the true
// length, so a logged request/response body never floods a terminal.
func truncateBody(message string, max int) string {
	if max <= 0 || len(message) <= max {
		return message
	}
	return message[:max] + fmt.Sprintf("...(truncated, %d bytes total)", len(message))
}

var durationScale = []struct {
	below  time.Duration
	unit   time.Duration
	suffix string
	fixed  bool // render with integer precision rather than one decimal
}{
	{time.Microsecond, time.Nanosecond, "ns", true},
	{time.Millisecond, time.Microsecond, "µs", true},
	{time.Second, time.Millisecond, "ms", true},
	{time.Minute, time.Second, "s", false},
	{time.Hour, time.Minute, "m", false},
}

// formatDuration renders d the way the npm "debug" package does (the
// reference format APERTURE_LOG output follows): whole units below a
// second, one decimal place above it.
func formatDuration(d time.Duration) string {
	for _, step := range durationScale {
		if d >= step.below {
			continue
		}
		if step.fixed {
			return fmt.Sprintf("%d%s", d/step.unit, step.suffix)
		}
		return fmt.Sprintf("%.1f%s", float64(d)/float64(step.unit), step.suffix)
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// computeEnabled reports whether namespace matches the APERTURE_LOG pattern
// set, compiling each term's glob to an anchored regexp in place of a
// prefix/suffix/middle special case per pattern shape.
func computeEnabled(namespace string) bool {
	enabled := false
	for _, rule := range parseRules(logEnv) {
		if !rule.re.MatchString(namespace) {
			continue
		}
		if rule.negate {
			return false // exclusions take precedence, same as the debug npm package
		}
		enabled = true
	}
	return enabled
}

func parseRules(env string) []patternRule {
	var rules []patternRule
	for _, raw := range strings.Split(env, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		negate := strings.HasPrefix(pattern, "-")
		rules = append(rules, patternRule{
			negate: negate,
			re:     globToRegexp(strings.TrimPrefix(pattern, "-")),
		})
	}
	return rules
}

// globToRegexp turns a namespace pattern (only "*" is special, matching any
// run of characters) into an anchored regexp, so matching a namespace
// against it is one Find call instead of a prefix/suffix/middle special
// case per pattern shape.
func globToRegexp(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "*")
	for i, s := range segments {
		segments[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile("^" + strings.Join(segments, ".*") + "$")
}
