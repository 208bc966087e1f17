package reasoning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ashureev/voxcore/internal/domain"
)

// Confidence assumed when the remote reply does not state one.
const (
	ConfidenceUnstated  = 0.9
	ConfidencePlainText = 1.0
)

type structuredReply struct {
	Intent       string          `json:"intent"`
	Confidence   json.RawMessage `json:"confidence"`
	Slots        map[string]any  `json:"slots"`
	Alternatives []string        `json:"alternatives"`
	Reply        string          `json:"reply"`
}

// ParseReply turns remote output into an IntentResult. Output carrying a JSON object
// is read as a structured intent; anything else is a plain-text answer. A malformed
// structure degrades to its surrounding text when there is any, otherwise it is
// reported as domain.ErrMalformedResponse.
func ParseReply(content, source string, logger *slog.Logger) (domain.IntentResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return domain.IntentResult{}, fmt.Errorf("empty reply: %w", domain.ErrMalformedResponse)
	}

	candidate := extractJSON(trimmed)
	if candidate == "" && strings.HasPrefix(trimmed, "{") {
		candidate = trimmed
	}
	if candidate == "" {
		return plainText(trimmed, source), nil
	}

	res, err := parseStructured(candidate, source, logger)
	if err == nil {
		return res, nil
	}

	rest := strings.TrimSpace(strings.Replace(trimmed, candidate, "", 1))
	rest = strings.Trim(rest, "`")
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "json"))
	if readable(rest) {
		logger.Warn("Malformed structured reply, using surrounding text", "error", err)
		return plainText(rest, source), nil
	}
	return domain.IntentResult{}, err
}

func parseStructured(raw, source string, logger *slog.Logger) (domain.IntentResult, error) {
	var sr structuredReply
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		return domain.IntentResult{}, fmt.Errorf("decode reply: %v: %w", err, domain.ErrMalformedResponse)
	}

	conf, err := parseConfidence(sr.Confidence, logger)
	if err != nil {
		if sr.Reply != "" {
			logger.Warn("Unusable confidence in reply, answering with its text", "error", err)
			return plainText(sr.Reply, source), nil
		}
		return domain.IntentResult{}, err
	}

	kind := domain.KindGeneral
	if sr.Intent != "" {
		var ok bool
		kind, ok = domain.ParseIntentKind(sr.Intent)
		if !ok {
			logger.Debug("Unknown intent from remote, treating as general", "intent", sr.Intent)
		}
	}
	if kind == domain.KindGeneral && sr.Reply == "" && sr.Intent == "" {
		return domain.IntentResult{}, fmt.Errorf("reply has neither intent nor text: %w", domain.ErrMalformedResponse)
	}

	var slots map[string]string
	if len(sr.Slots) > 0 {
		slots = make(map[string]string, len(sr.Slots))
		for k, v := range sr.Slots {
			if v == nil {
				continue
			}
			slots[k] = fmt.Sprint(v)
		}
	}

	res := domain.NewIntentResult(kind, conf, source, slots, domain.ProvenanceRemote)
	var alts []domain.IntentKind
	for _, name := range sr.Alternatives {
		if k, ok := domain.ParseIntentKind(name); ok && k != kind {
			alts = append(alts, k)
		}
	}
	if len(alts) > 0 {
		res = res.WithAlternatives(alts...)
	}
	if sr.Reply != "" {
		res = res.WithReply(sr.Reply)
	}
	return res, nil
}

// parseConfidence accepts a number, or the legacy marker "high" which maps to 1.0.
func parseConfidence(raw json.RawMessage, logger *slog.Logger) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ConfidenceUnstated, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return domain.ClampConfidence(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.EqualFold(strings.TrimSpace(s), "high") {
		logger.Warn("Remote reply used legacy confidence marker", "confidence", s)
		return 1.0, nil
	}
	return 0, fmt.Errorf("confidence %s: %w", raw, domain.ErrMalformedResponse)
}

func plainText(text, source string) domain.IntentResult {
	return domain.NewIntentResult(domain.KindGeneral, ConfidencePlainText, source, nil, domain.ProvenanceRemote).
		WithReply(text)
}

// extractJSON returns the outermost {...} span of content, or "".
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(content, "}")
	if end == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func readable(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
