package catalog

import (
	"sort"
	"strings"
)

// localContextWindows maps model family substrings to context sizes for
// local servers, which do not report them.
var localContextWindows = map[string]int{
	"llama3.1":       131072,
	"llama3.2":       131072,
	"llama3.3":       131072,
	"llama3":         8192,
	"llama2":         4096,
	"codellama":      16384,
	"tinyllama":      2048,
	"mistral":        32768,
	"mixtral":        32768,
	"codestral":      32768,
	"phi3":           4096,
	"phi-3":          4096,
	"phi4":           16384,
	"qwen2.5-coder":  32768,
	"qwen2.5":        32768,
	"qwen2":          32768,
	"gemma2":         8192,
	"gemma":          8192,
	"codegemma":      8192,
	"deepseek-coder": 16384,
	"deepseek-r1":    65536,
	"starcoder2":     16384,
}

var contextKeys = sortedContextKeys()

func sortedContextKeys() []string {
	keys := make([]string, 0, len(localContextWindows))
	for k := range localContextWindows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// LookupContextWindow returns the context window for a local model name
// using case-insensitive substring matching, longest key first. Zero means
// unknown.
func LookupContextWindow(name string) int {
	lower := strings.ToLower(name)
	for _, key := range contextKeys {
		if strings.Contains(lower, key) {
			return localContextWindows[key]
		}
	}
	return 0
}
