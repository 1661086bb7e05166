package nl2sql

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sqlmentor/sqlmentor/internal/dbgateway"
)

func TestStripMarkdownSQL(t *testing.T) {
	got := stripMarkdownSQL("```sql\nSELECT 1;\n```")
	if got != "SELECT 1;" {
		t.Fatalf("stripMarkdownSQL() = %q", got)
	}
}

func TestBuildOpenAIPayloadIncludesExamplesAndHistory(t *testing.T) {
	req := Request{
		ConnectionID: "conn-a",
		Engine:       "postgres",
		Question:     "show active users",
		Schema: dbgateway.Schema{Tables: []dbgateway.TableSchema{
			{Name: "users", Columns: []dbgateway.ColumnSchema{{Name: "id", Type: "bigint"}}},
		}},
		Examples: []ExampleContext{
			{Question: "count users", SQL: "SELECT COUNT(*) FROM users", IncorrectSQL: "SELECT COUNT(id) FROM user"},
		},
		History: []HistoryTurn{
			{Message: "list users", FromUser: true},
			{Message: "Here are the users.", FromUser: false, SQL: "SELECT id FROM users"},
		},
	}

	payload, err := buildOpenAIPayload("gpt-5", 0.1, req)
	if err != nil {
		t.Fatalf("buildOpenAIPayload() error = %v", err)
	}

	messages, ok := payload["messages"].([]map[string]string)
	if !ok || len(messages) != 2 {
		t.Fatalf("unexpected messages payload: %#v", payload["messages"])
	}
	if !strings.Contains(messages[0]["content"], "PostgreSQL") {
		t.Fatalf("system prompt missing engine dialect: %q", messages[0]["content"])
	}
	userPrompt := messages[1]["content"]
	for _, want := range []string{
		"SELECT COUNT(*) FROM users",
		"Known wrong answer (do not repeat): SELECT COUNT(id) FROM user",
		"user: list users",
		"sql: SELECT id FROM users",
		"show active users",
	} {
		if !strings.Contains(userPrompt, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, userPrompt)
		}
	}
}

func TestGenerateParsesChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```sql\\nSELECT 1;\\n```" + `"}}]}`))
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key", Model: "gpt-5"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	result, err := generator.Generate(context.Background(), Request{Engine: "postgres", Question: "ping"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.SQL != "SELECT 1;" {
		t.Fatalf("result.SQL = %q", result.SQL)
	}
	if result.Provider != "openai-compatible" {
		t.Fatalf("result.Provider = %q", result.Provider)
	}
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	if _, err := generator.Generate(context.Background(), Request{Question: "ping"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
