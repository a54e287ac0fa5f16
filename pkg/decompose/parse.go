package decompose

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// rawSubtask is a subtask as a model writes it. Field names vary between
// models, so several spellings are accepted.
type rawSubtask struct {
	ID              flexID   `json:"id"`
	Description     string   `json:"description"`
	Title           string   `json:"title"`
	Complexity      *float64 `json:"complexity"`
	EstimatedTokens int      `json:"estimated_tokens"`
	TokensCamel     int      `json:"estimatedTokens"`
	Dependencies    []flexID `json:"dependencies"`
	CodeType        string   `json:"code_type"`
	CodeTypeCamel   string   `json:"codeType"`
	Type            string   `json:"type"`
}

func (r rawSubtask) description() string {
	if strings.TrimSpace(r.Description) != "" {
		return strings.TrimSpace(r.Description)
	}
	return strings.TrimSpace(r.Title)
}

func (r rawSubtask) tokens() int {
	if r.EstimatedTokens > 0 {
		return r.EstimatedTokens
	}
	return r.TokensCamel
}

func (r rawSubtask) codeType() string {
	for _, v := range []string{r.CodeType, r.CodeTypeCamel, r.Type} {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

var errNoSubtasks = errors.New("no subtasks found in response")

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// parseSubtasks extracts subtasks from a model response, trying a fenced
// JSON block, then a bare JSON value, then numbered sections.
func parseSubtasks(content string) ([]rawSubtask, string, error) {
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		if subs, err := decodeSubtasks(m[1]); err == nil {
			return subs, "fenced-json", nil
		}
	}

	if obj := extractObject(content); obj != "" {
		if subs, err := decodeSubtasks(obj); err == nil {
			return subs, "json", nil
		}
	}
	if arr := extractBracketed(content, '[', ']'); arr != "" {
		if subs, err := decodeSubtasks(arr); err == nil {
			return subs, "json", nil
		}
	}

	if subs := parseSections(content); len(subs) > 0 {
		return subs, "sections", nil
	}
	return nil, "", errNoSubtasks
}

func decodeSubtasks(s string) ([]rawSubtask, error) {
	s = strings.TrimSpace(s)
	var wrapped struct {
		Subtasks []rawSubtask `json:"subtasks"`
	}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
			return nil, err
		}
		return nonEmpty(wrapped.Subtasks)
	}
	var list []rawSubtask
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return nonEmpty(list)
}

func nonEmpty(subs []rawSubtask) ([]rawSubtask, error) {
	out := subs[:0]
	for _, s := range subs {
		if s.description() != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errNoSubtasks
	}
	return out, nil
}

// extractObject returns the text between the first '{' and the last '}'.
func extractObject(content string) string {
	return extractBracketed(content, '{', '}')
}

func extractBracketed(content string, lo, hi byte) string {
	start := strings.IndexByte(content, lo)
	end := strings.LastIndexByte(content, hi)
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

var (
	sectionHeader  = regexp.MustCompile(`(?im)^\s*(?:#+\s*)?(?:\*\*)?(?:subtask\s*)?(\d+)[.):]\s*(.*)$`)
	complexityLine = regexp.MustCompile(`(?i)complexity\W*?([0-9]*\.?[0-9]+)`)
	tokensLine     = regexp.MustCompile(`(?i)tokens?\W*?(\d+)`)
	dependsLine    = regexp.MustCompile(`(?i)depend(?:s|encies)?(?:\s+on)?\s*[:=-]\s*(.+)`)
	typeLine       = regexp.MustCompile(`(?i)(?:code\s*)?type\s*[:=-]\s*\**\s*([a-z]+)`)
	descLine       = regexp.MustCompile(`(?i)description\s*[:=-]\s*(.+)`)
	numberPattern  = regexp.MustCompile(`\d+`)
)

// parseSections reads numbered sections such as
//
//	1. Parse the input
//	   Complexity: 0.4
//	   Tokens: 800
//	   Dependencies: none
//	   Type: function
func parseSections(content string) []rawSubtask {
	headers := sectionHeader.FindAllStringSubmatchIndex(content, -1)
	var out []rawSubtask
	for i, h := range headers {
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := content[h[1]:end]
		number := content[h[2]:h[3]]
		title := strings.Trim(strings.TrimSpace(content[h[4]:h[5]]), "*")

		sub := rawSubtask{ID: flexID(number), Description: strings.TrimSpace(title)}
		if m := descLine.FindStringSubmatch(body); m != nil {
			sub.Description = strings.TrimSpace(m[1])
		}
		if m := complexityLine.FindStringSubmatch(body); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				sub.Complexity = &v
			}
		}
		if m := tokensLine.FindStringSubmatch(body); m != nil {
			sub.EstimatedTokens, _ = strconv.Atoi(m[1])
		}
		if m := dependsLine.FindStringSubmatch(body); m != nil {
			for _, n := range numberPattern.FindAllString(m[1], -1) {
				sub.Dependencies = append(sub.Dependencies, flexID(n))
			}
		}
		if m := typeLine.FindStringSubmatch(body); m != nil {
			sub.CodeType = m[1]
		}
		if sub.description() != "" {
			out = append(out, sub)
		}
	}
	return out
}
