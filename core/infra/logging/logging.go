package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

const (
	envLogFormat = "REGISTRY_LOG_FORMAT"
	missingValue = "(missing)"
	maskedValue  = "[REDACTED]"
)

var (
	logFormatOnce sync.Once
	logAsJSON     bool
)

// sensitiveKeys are field names whose values never reach the log.
var sensitiveKeys = []string{"token", "authorization", "password", "secret", "private_key", "api_key"}

// Info logs a message with key/value fields under the component prefix.
func Info(component, msg string, kv ...interface{}) {
	emit("INFO", component, msg, kv)
}

// Warn logs a security or operator-relevant warning.
func Warn(component, msg string, kv ...interface{}) {
	emit("WARN", component, msg, kv)
}

func Error(component, msg string, kv ...interface{}) {
	emit("ERROR", component, msg, kv)
}

func emit(level, component, msg string, kv []interface{}) {
	logFormatOnce.Do(func() {
		logAsJSON = strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "json")
	})
	if logAsJSON {
		log.Print(formatJSON(level, component, msg, kv))
		return
	}
	head := "[" + strings.ToUpper(component) + "] "
	if level != "INFO" {
		head += level + " "
	}
	log.Print(head + msg + formatFields(kv))
}

type field struct {
	key   string
	value interface{}
}

// fields pairs up kv, pads an odd tail and masks sensitive values.
func fields(kv []interface{}) []field {
	out := make([]field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		f := field{key: strings.TrimSpace(toString(kv[i])), value: missingValue}
		if i+1 < len(kv) {
			f.value = kv[i+1]
		}
		if f.key == "" {
			continue
		}
		if isSensitive(f.key) {
			f.value = maskedValue
		}
		out = append(out, f)
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func formatJSON(level, component, msg string, kv []interface{}) string {
	payload := map[string]any{"level": level, "component": component, "msg": msg}
	for _, f := range fields(kv) {
		if err, ok := f.value.(error); ok {
			payload[f.key] = err.Error()
			continue
		}
		payload[f.key] = f.value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"level": level, "component": component, "msg": msg})
	}
	return string(data)
}

func formatFields(kv []interface{}) string {
	var b strings.Builder
	for _, f := range fields(kv) {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(toString(f.value))
	}
	return b.String()
}

// toString flattens non-string values onto one line.
func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return strings.Join(strings.Fields(fmt.Sprint(v)), " ")
}
