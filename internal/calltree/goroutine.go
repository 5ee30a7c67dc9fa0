package calltree

import (
	"bufio"
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// State is a coarse classification of what a goroutine was doing when
// sampled.
type State string

const (
	StateRunning  State = "RUNNING"
	StateRunnable State = "RUNNABLE"
	StateSyscall  State = "SYSCALL"
	StateBlocked  State = "BLOCKED"
	StateWaiting  State = "WAITING"
	StateUnknown  State = "UNKNOWN"
)

// Categorize maps a runtime wait reason ("chan receive", "sync.Mutex.Lock",
// "IO wait", ...) onto a State.
func Categorize(reason string) State {
	switch {
	case reason == "running":
		return StateRunning
	case reason == "runnable":
		return StateRunnable
	case reason == "syscall":
		return StateSyscall
	case strings.HasPrefix(reason, "sync.") || strings.HasPrefix(reason, "semacquire"):
		return StateBlocked
	case reason == "":
		return StateUnknown
	default:
		return StateWaiting
	}
}

// Frame identifies one stack frame. Two frames are the same node in the call
// tree only if all fields are equal.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (f Frame) String() string {
	return fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
}

// GoroutineSample is one goroutine parsed from a runtime stack dump.
type GoroutineSample struct {
	ID int64
	// WaitReason is the first element of the bracketed status, e.g.
	// "running" or "chan receive".
	WaitReason string
	// Frames are ordered innermost first, as printed by the runtime.
	Frames []Frame
}

// State classifies WaitReason.
func (g GoroutineSample) State() State {
	return Categorize(g.WaitReason)
}

// DumpFunc returns the text of runtime.Stack(buf, true).
type DumpFunc func() []byte

// DumpAll captures the stacks of all goroutines.
func DumpAll() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// CurrentGoroutineID returns the id of the calling goroutine.
func CurrentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id, _, _ := parseHeader(string(buf[:n]))
	return id
}

// ParseGoroutines parses a full stack dump.
func ParseGoroutines(dump []byte) []GoroutineSample {
	var out []GoroutineSample
	forEachGoroutine(dump, func(g GoroutineSample) bool {
		out = append(out, g)
		return true
	})
	return out
}

// LookupGoroutine finds goroutine id in dump.
func LookupGoroutine(dump []byte, id int64) (GoroutineSample, bool) {
	var found GoroutineSample
	ok := false
	forEachGoroutine(dump, func(g GoroutineSample) bool {
		if g.ID == id {
			found, ok = g, true
			return false
		}
		return true
	})
	return found, ok
}

func forEachGoroutine(dump []byte, fn func(GoroutineSample) bool) {
	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var (
		cur     *GoroutineSample
		pending string // function line waiting for its file line
		created bool
	)
	flush := func() bool {
		if cur == nil {
			return true
		}
		g := *cur
		cur = nil
		return fn(g)
	}

	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "goroutine ") {
			if !flush() {
				return
			}
			id, reason, ok := parseHeader(line)
			if !ok {
				continue
			}
			cur = &GoroutineSample{ID: id, WaitReason: reason}
			pending, created = "", false
			continue
		}
		if cur == nil || line == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") {
			if pending == "" {
				continue
			}
			file, lineNo := parseFileLine(strings.TrimSpace(line))
			if !created {
				cur.Frames = append(cur.Frames, Frame{Function: pending, File: file, Line: lineNo})
			}
			pending = ""
			continue
		}
		if strings.HasPrefix(line, "created by ") {
			created = true
			pending = line
			continue
		}
		if strings.HasPrefix(line, "...") {
			continue
		}
		pending = parseFunction(line)
	}
	flush()
}

// parseHeader parses "goroutine 18 [chan receive, 2 minutes]:".
func parseHeader(line string) (int64, string, bool) {
	rest := strings.TrimPrefix(line, "goroutine ")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(rest[:sp], 10, 64)
	if err != nil {
		return 0, "", false
	}
	open := strings.IndexByte(rest, '[')
	end := strings.LastIndexByte(rest, ']')
	if open < 0 || end < open {
		return id, "", true
	}
	status := rest[open+1 : end]
	if comma := strings.IndexByte(status, ','); comma >= 0 {
		status = status[:comma]
	}
	return id, strings.TrimSpace(status), true
}

// parseFunction strips the argument list from "main.(*T).Foo(0x1, 0x2)".
func parseFunction(line string) string {
	if i := strings.LastIndexByte(line, '('); i > 0 {
		return line[:i]
	}
	return line
}

// parseFileLine parses "/path/file.go:12 +0x1d".
func parseFileLine(s string) (string, int) {
	if sp := strings.IndexByte(s, ' '); sp >= 0 {
		s = s[:sp]
	}
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[colon+1:])
	if err != nil {
		return s, 0
	}
	return s[:colon], n
}
