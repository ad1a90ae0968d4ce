package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a zap-backed logger. mode is production, test (warn and above) or anything else for development.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	sugar := zapLogger.Sugar()
	return &Logger{SugaredLogger: sugar}, nil
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	newSugared := l.SugaredLogger.With(sanitizeKVs(keysAndValues)...)
	return &Logger{SugaredLogger: newSugared}
}

type keyRule int

const (
	ruleKeep keyRule = iota
	ruleRedact
	ruleHash
)

// Matched as substrings of the lowercased key.
var (
	redactKeys = []string{"authorization", "secret", "api_key", "apikey", "credentials", "signature", "image_url", "data_url"}
	// Ownership tokens are hashed so lines from one worker still correlate.
	hashKeys = []string{"owner_token", "redis_addr"}
)

type redaction struct {
	enabled bool
	salt    string
	extra   []string
}

var (
	redactOnce sync.Once
	redactCfg  redaction
)

func loadRedaction() redaction {
	redactOnce.Do(func() {
		switch strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED"))) {
		case "0", "false", "no", "off":
			redactCfg.enabled = false
		default:
			redactCfg.enabled = true
		}
		redactCfg.salt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
		for _, k := range strings.Split(os.Getenv("LOG_REDACT_EXTRA_KEYS"), ",") {
			if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
				redactCfg.extra = append(redactCfg.extra, k)
			}
		}
	})
	return redactCfg
}

func redactionOn() bool { return loadRedaction().enabled }

func ruleFor(key string) keyRule {
	if key == "" {
		return ruleKeep
	}
	if containsAny(key, redactKeys) || containsAny(key, loadRedaction().extra) {
		return ruleRedact
	}
	if containsAny(key, hashKeys) {
		return ruleHash
	}
	return ruleKeep
}

func containsAny(key string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}

func normKey(k interface{}) string {
	return strings.TrimSpace(strings.ToLower(toString(k)))
}

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionOn() {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, toString(kv[i]), sanitizeValue(normKey(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	switch ruleFor(key) {
	case ruleRedact:
		return "[REDACTED]"
	case ruleHash:
		return hashValue(val)
	}
	switch v := val.(type) {
	case []byte:
		// Media payloads are never logged, only their size.
		return fmt.Sprintf("<%d bytes>", len(v))
	case string:
		if strings.HasPrefix(v, "data:") && strings.Contains(v, ";base64,") {
			return "[REDACTED]"
		}
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for k, s := range v {
			out[k] = sanitizeValue(normKey(k), s)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, x := range v {
			out[k] = sanitizeValue(normKey(k), x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, x := range v {
			out[i] = sanitizeValue("", x)
		}
		return out
	default:
		return val
	}
}

func hashValue(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	if salt := loadRedaction().salt; salt != "" {
		_, _ = h.Write([]byte(salt))
	}
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
