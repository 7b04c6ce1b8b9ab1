package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// rule answers any prompt of a model that contains a substring. Rules are
// checked before the sequential fixtures, so parallel cells get stable
// replies regardless of call order.
type rule struct {
	Model    string `yaml:"model"`
	Contains string `yaml:"contains"`
	Reply    string `yaml:"reply"`
}

// fixtureSet is everything loaded from a fixture directory.
type fixtureSet struct {
	// sequences maps a model to its replies in call order.
	sequences map[string][]string
	rules     []rule
}

// capturedRequest stores an incoming request for test verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per model
	Rule      string        `json:"rule,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures fixtureSet
	logger   *slog.Logger
	calls    atomic.Int64

	mu         sync.Mutex
	modelCalls map[string]int
	requests   map[string][]capturedRequest
}

func newServer(fixtures fixtureSet, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:   fixtures,
		logger:     logger,
		modelCalls: make(map[string]int),
		requests:   make(map[string][]capturedRequest),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// lastUserMessage returns the prompt a rule is matched against.
func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// reply picks the content for a request and records it.
func (s *server) reply(req chatRequest) (string, int, bool) {
	model := req.Model
	prompt := lastUserMessage(req.Messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelCalls[model]++
	callIndex := s.modelCalls[model]
	captured := capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	}
	defer func() { s.requests[model] = append(s.requests[model], captured) }()

	stripped := strings.TrimPrefix(model, "mock-")
	for _, r := range s.fixtures.rules {
		if (r.Model == "" || r.Model == model || r.Model == stripped) && strings.Contains(prompt, r.Contains) {
			captured.Rule = r.Contains
			return r.Reply, callIndex, true
		}
	}

	seq, ok := s.fixtures.sequences[model]
	if !ok {
		seq, ok = s.fixtures.sequences[stripped]
	}
	if !ok {
		return "", callIndex, false
	}
	if callIndex <= len(seq) {
		return seq[callIndex-1], callIndex, true
	}
	return seq[len(seq)-1], callIndex, true
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	content, callIndex, ok := s.reply(req)
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	s.logger.Debug("Serving fixture", "call", callNum, "model", req.Model, "call_index", callIndex, "bytes", len(content))

	writeJSON(w, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(lastUserMessage(req.Messages)) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(lastUserMessage(req.Messages)) + len(content)) / 4,
		},
	})
}

// handleModels lists the models with fixtures.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures.sequences))
	for name := range s.fixtures.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]modelEntry, len(names))
	for i, name := range names {
		models[i] = modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"}
	}
	writeJSON(w, map[string]any{"object": "list", "data": models})
}

// handleStats returns total_calls and calls_by_model.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.modelCalls))
	for model, n := range s.modelCalls {
		byModel[model] = n
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": byModel,
	})
}

// handleRequests returns captured requests, optionally filtered by the model
// and call (1-indexed) query parameters.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, callErr := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.requests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callErr == nil && req.CallIndex != callFilter {
				continue
			}
			result[model] = append(result[model], req)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"requests_by_model": result})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// numberedFileRe matches model.N.json and model.N.txt.
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(json|txt)$`)

// rulesFile holds prompt rules inside a fixture directory.
const rulesFile = "rules.yaml"

// loadFixtures reads a fixture directory.
//
// model.json and model.txt hold one reply; .json files must be valid JSON,
// .txt files are served verbatim for free-text roles. Numbered files
// (model.1.json, model.2.txt, ...) are served in numeric order before the base
// file, which then repeats. rules.yaml lists {model, contains, reply} entries
// matched against the last user message.
func loadFixtures(dir string) (fixtureSet, error) {
	set := fixtureSet{sequences: make(map[string][]string)}
	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if name == rulesFile {
			rules, err := loadRules(path)
			if err != nil {
				return err
			}
			set.rules = append(set.rules, rules...)
			return nil
		}
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if ext == ".json" && !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}
		content := string(data)
		if ext == ".txt" {
			content = strings.TrimRight(content, "\n")
		}

		if m := numberedFileRe.FindStringSubmatch(name); m != nil {
			index, _ := strconv.Atoi(m[2])
			if numbered[m[1]] == nil {
				numbered[m[1]] = make(map[int]string)
			}
			numbered[m[1]][index] = content
			return nil
		}
		base[strings.TrimSuffix(name, ext)] = content
		return nil
	})
	if err != nil {
		return fixtureSet{}, err
	}

	models := make(map[string]bool)
	for m := range base {
		models[m] = true
	}
	for m := range numbered {
		models[m] = true
	}
	for model := range models {
		var seq []string
		indices := make([]int, 0, len(numbered[model]))
		for idx := range numbered[model] {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			seq = append(seq, numbered[model][idx])
		}
		if b, ok := base[model]; ok {
			seq = append(seq, b)
		}
		set.sequences[model] = seq
	}

	if len(set.sequences) == 0 && len(set.rules) == 0 {
		return fixtureSet{}, fmt.Errorf("no fixture files found in %s", dir)
	}
	return set, nil
}

func loadRules(path string) ([]rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rules []rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, r := range rules {
		if r.Contains == "" {
			return nil, fmt.Errorf("%s: rule %d has no contains", path, i+1)
		}
	}
	return rules, nil
}
