package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// Vars holds variables for template rendering
type Vars map[string]string

// NewTemplateEngine creates an engine preloaded with the default templates
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	for _, tmpl := range defaultTemplates() {
		e.RegisterTemplate(tmpl)
	}
	return e
}

// RegisterTemplate registers a template, replacing any with the same name
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) {
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template. Unknown variables keep their placeholder.
func (e *TemplateEngine) Render(name string, vars Vars) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	}), nil
}

// ImportTemplates registers every template in a JSON array document
func (e *TemplateEngine) ImportTemplates(data []byte) (int, error) {
	var list []Template
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("failed to unmarshal templates: %w", err)
	}
	for i := range list {
		tmpl := list[i]
		if tmpl.Name == "" {
			return i, fmt.Errorf("template %d has no name", i)
		}
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
		e.RegisterTemplate(&tmpl)
	}
	return len(list), nil
}

// LoadOverrides imports templates from a JSON file
func (e *TemplateEngine) LoadOverrides(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read templates file: %w", err)
	}
	return e.ImportTemplates(data)
}

// ParseTemplateVariables extracts variables from a template, sorted
func ParseTemplateVariables(content string) []string {
	matches := varRegex.FindAllStringSubmatch(content, -1)

	unique := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			unique[match[1]] = true
		}
	}

	vars := make([]string, 0, len(unique))
	for v := range unique {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// NormalizeLanguage maps a requested language to one with templates
func NormalizeLanguage(lang string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(lang)), "zh") {
		return LangZH
	}
	return LangEN
}
