package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

func (lv LogLevel) String() string {
	switch lv {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

// palette colours one level on the terminal: the level tag and the category.
type palette struct {
	level, category *color.Color
}

var (
	palettes = map[LogLevel]palette{
		DEBUG: {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
		INFO:  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
		WARN:  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
		ERROR: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
		FATAL: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
	}
	timeColor   = color.New(color.FgBlue)
	callerColor = color.New(color.FgMagenta)
)

type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	logFile  *os.File
	jsonOut  *json.Encoder
	colored  bool
	minLevel LogLevel
}

// NewLogger writes colored lines to stdout and JSON lines to a daily file
// under logDir.
func NewLogger(service, logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", service, time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	l := &Logger{
		out:      os.Stdout,
		logFile:  logFile,
		jsonOut:  json.NewEncoder(logFile),
		colored:  true,
		minLevel: DEBUG,
	}
	l.Info("LOGGER", fmt.Sprintf("Logging to %s", path))
	return l, nil
}

// NewWriterLogger logs plain terminal lines to w only. Used by tests and by
// main when the log directory is not writable.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: w, minLevel: DEBUG}
}

// SetLevel drops entries below level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

func (l *Logger) log(level LogLevel, category, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		entry.File, entry.Line = filepath.Base(file), line
	}

	io.WriteString(l.out, l.terminalLine(level, entry))
	if l.jsonOut != nil {
		l.jsonOut.Encode(entry)
	}
}

// terminalLine renders "15:04:05 LEVEL [CATEGORY  ] message (file:line)".
func (l *Logger) terminalLine(level LogLevel, entry LogEntry) string {
	clock := entry.Timestamp[11:19]
	tag := fmt.Sprintf("%-5s", entry.Level)
	category := fmt.Sprintf("[%-10s]", entry.Category)
	var caller string
	if entry.File != "" {
		caller = fmt.Sprintf(" (%s:%d)", entry.File, entry.Line)
	}

	if l.colored {
		p := palettes[level]
		clock = timeColor.Sprint(clock)
		tag = p.level.Sprint(tag)
		category = p.category.Sprint(category)
		if caller != "" {
			caller = callerColor.Sprint(caller)
		}
	}
	return clock + " " + tag + " " + category + " " + entry.Message + caller + "\n"
}

// ParseLevel maps LOG_LEVEL values; unknown strings fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	os.Exit(1)
}

// LogTicket records a ticket lifecycle step for one order.
func (l *Logger) LogTicket(action, orderID, message string) {
	l.log(INFO, "TICKET", fmt.Sprintf("[%s] %s - %s", action, orderID, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.log(WARN, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile, l.jsonOut = nil, nil
	}
}
