package automation

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, captureStack(), fields...)
		}
	}
}

// RecoverError turns a panic into an error stored in target. It must be
// deferred directly. The stack is passed to logger when one is given.
func RecoverError(target *error, funcName string, logger PanicLogger, fields ...map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	if logger != nil {
		logger(funcName, r, captureStack(), fields...)
	}
	if target == nil {
		return
	}
	if err, ok := r.(error); ok {
		*target = fmt.Errorf("panic in %s: %w", funcName, err)
		return
	}
	*target = fmt.Errorf("panic in %s: %v", funcName, r)
}

func DefaultPanicLogger(funcName string, err any, stack []byte, fields ...map[string]any) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[FATAL] recovered from panic in %s\n", funcName))

	sb.WriteString(fmt.Sprintf("Error: %v\n", err))
	sb.WriteString(fmt.Sprintf("Error Type: %T\n", err))

	if len(fields) > 0 && fields[0] != nil {
		sb.WriteString("Context:\n")

		// sort keys for consistent output
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, fields[0][k]))
		}
	}

	sb.WriteString("Stack Trace:\n")
	sb.Write(stack)

	log.Print(sb.String())
}

// LoggerPanicLogger reports panics through an engine Logger.
func LoggerPanicLogger(logger Logger) PanicLogger {
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		l := NormalizeLogger(logger)
		if len(fields) > 0 && fields[0] != nil {
			l = WithLoggerFields(l, fields[0])
		}
		l.Error("recovered from panic in %s: %v\n%s", funcName, err, stack)
	}
}

func captureStack() []byte {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	return cleanStackTrace(fullStack[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// we find the index after the panic line
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// then remove everything before it
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		// remove the panic() call line & file reference line
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
