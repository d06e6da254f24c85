package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

const (
	DefaultMaxIterations     = 5
	DefaultLogPath           = "director.log"
	DefaultExecutionTimeout  = 300 * time.Second
	DefaultGenerationTimeout = 30 * time.Minute
	DefaultJudgeTimeout      = 5 * time.Minute
	DefaultBackend           = "claude"
)

// document mirrors the YAML layout of a workflow spec file.
type document struct {
	Name              string        `yaml:"name"`
	TaskPrompt        string        `yaml:"task_prompt" validate:"required"`
	CodeModel         string        `yaml:"code_model" validate:"required"`
	JudgeModel        string        `yaml:"judge_model"`
	MaxIterations     int           `yaml:"max_iterations" validate:"gte=0"`
	ExecutionCommand  string        `yaml:"execution_command" validate:"required"`
	EditablePaths     []string      `yaml:"editable_paths" validate:"required,min=1,dive,required"`
	ReadOnlyPaths     []string      `yaml:"read_only_paths" validate:"dive,required"`
	Evaluator         string        `yaml:"evaluator" validate:"omitempty,oneof=judgment default unittest pytest lua"`
	EvaluatorScript   string        `yaml:"evaluator_script" validate:"required_if=Evaluator lua"`
	LogPath           string        `yaml:"log_path"`
	CodeBackend       string        `yaml:"code_backend" validate:"omitempty,oneof=claude aider"`
	JudgeBackend      string        `yaml:"judge_backend" validate:"omitempty,oneof=claude openai anthropic ollama"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout" validate:"gte=0"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" validate:"gte=0"`
	JudgeTimeout      time.Duration `yaml:"judge_timeout" validate:"gte=0"`
	FeedbackHistory   string        `yaml:"feedback_history" validate:"omitempty,oneof=latest full"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Loader reads workflow specs, resolving relative context paths against Root.
type Loader struct {
	Root string
}

func NewLoader(root string) (*Loader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	return &Loader{Root: abs}, nil
}

// Load reads a spec with the current directory as the project root.
func Load(path string) (*models.WorkflowSpec, error) {
	l, err := NewLoader(".")
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// Load parses, validates and resolves the spec at path. The returned spec
// has its task prompt document (if any) already substituted.
func (l *Loader) Load(path string) (*models.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound(path, err)
	}

	doc, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(doc); err != nil {
		return nil, invalidf(path, "%s", describe(err))
	}

	s := &models.WorkflowSpec{
		Name:              doc.Name,
		Root:              l.Root,
		CodeModel:         doc.CodeModel,
		JudgeModel:        doc.JudgeModel,
		MaxIterations:     doc.MaxIterations,
		ExecutionCommand:  strings.TrimSpace(doc.ExecutionCommand),
		Evaluator:         evaluatorKind(doc.Evaluator),
		LogPath:           doc.LogPath,
		CodeBackend:       doc.CodeBackend,
		JudgeBackend:      doc.JudgeBackend,
		ExecutionTimeout:  doc.ExecutionTimeout,
		GenerationTimeout: doc.GenerationTimeout,
		JudgeTimeout:      doc.JudgeTimeout,
		FeedbackHistory:   models.FeedbackHistory(doc.FeedbackHistory),
	}
	applyDefaults(s, path)

	if s.Path, err = filepath.Abs(path); err != nil {
		return nil, fmt.Errorf("failed to resolve spec path: %w", err)
	}

	if s.ExecutionCommand == "" {
		return nil, invalidf(path, "execution_command must not be blank")
	}

	s.TaskPrompt, err = l.resolvePrompt(path, doc.TaskPrompt)
	if err != nil {
		return nil, err
	}

	if s.EditablePaths, err = l.contextPaths(path, "editable_paths", doc.EditablePaths); err != nil {
		return nil, err
	}
	if s.ReadOnlyPaths, err = l.contextPaths(path, "read_only_paths", doc.ReadOnlyPaths); err != nil {
		return nil, err
	}
	if err := l.checkDisjoint(path, s.EditablePaths, s.ReadOnlyPaths); err != nil {
		return nil, err
	}

	if s.Evaluator == models.EvaluatorScript {
		script := l.abs(doc.EvaluatorScript)
		if _, err := os.Stat(script); err != nil {
			return nil, missingf(path, "evaluator_script %s does not exist", doc.EvaluatorScript)
		}
		s.EvaluatorScript = script
	}

	s.LogPath = l.abs(s.LogPath)
	return s, nil
}

func decode(path string, data []byte) (*document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidf(path, "spec file is empty")
		}
		return nil, invalidf(path, "failed to parse spec YAML: %v", err)
	}
	return &doc, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "document.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func evaluatorKind(name string) models.EvaluatorKind {
	switch name {
	case "", "default", "judgment":
		return models.EvaluatorJudgment
	default:
		return models.EvaluatorKind(name)
	}
}

func applyDefaults(s *models.WorkflowSpec, path string) {
	if s.Name == "" {
		base := filepath.Base(path)
		s.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.JudgeModel == "" {
		s.JudgeModel = s.CodeModel
	}
	if s.LogPath == "" {
		s.LogPath = DefaultLogPath
	}
	if s.CodeBackend == "" {
		s.CodeBackend = DefaultBackend
	}
	if s.JudgeBackend == "" {
		s.JudgeBackend = DefaultBackend
	}
	if s.ExecutionTimeout == 0 {
		s.ExecutionTimeout = DefaultExecutionTimeout
	}
	if s.GenerationTimeout == 0 {
		s.GenerationTimeout = DefaultGenerationTimeout
	}
	if s.JudgeTimeout == 0 {
		s.JudgeTimeout = DefaultJudgeTimeout
	}
	if s.FeedbackHistory == "" {
		s.FeedbackHistory = models.FeedbackLatest
	}
}

// resolvePrompt substitutes a referenced prompt document. A single-line
// value ending in a document extension is treated as a path; it is looked
// up next to the spec file first, then under the root.
func (l *Loader) resolvePrompt(specPath, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", invalidf(specPath, "task_prompt must not be blank")
	}
	if !IsPromptDocument(value) {
		return raw, nil
	}

	candidates := []string{value}
	if !filepath.IsAbs(value) {
		candidates = []string{
			filepath.Join(filepath.Dir(specPath), value),
			filepath.Join(l.Root, value),
		}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", invalidf(specPath, "task prompt document %s is empty", value)
		}
		return string(data), nil
	}
	return "", missingf(specPath, "task prompt document %s does not exist", value)
}

// IsPromptDocument reports whether a task_prompt value names a document
// rather than holding inline text.
func IsPromptDocument(value string) bool {
	if strings.ContainsAny(value, "\n\r") {
		return false
	}
	switch strings.ToLower(filepath.Ext(value)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// contextPaths cleans, de-duplicates and checks the existence of a path set.
func (l *Loader) contextPaths(specPath, field string, paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))

	for _, p := range paths {
		clean := filepath.Clean(strings.TrimSpace(p))
		if seen[clean] {
			continue
		}
		seen[clean] = true

		info, err := os.Stat(l.abs(clean))
		if err != nil {
			return nil, missingf(specPath, "%s entry %s does not exist", field, clean)
		}
		if info.IsDir() {
			return nil, invalidf(specPath, "%s entry %s is a directory", field, clean)
		}
		out = append(out, clean)
	}
	return out, nil
}

func (l *Loader) checkDisjoint(specPath string, editable, readOnly []string) error {
	editableSet := make(map[string]bool, len(editable))
	for _, p := range editable {
		editableSet[l.abs(p)] = true
	}
	for _, p := range readOnly {
		if editableSet[l.abs(p)] {
			return invalidf(specPath, "%s is listed in both editable_paths and read_only_paths", p)
		}
	}
	return nil
}

func (l *Loader) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.Root, p)
}

// Find locates a spec by name or path. Names are looked up as
// <dir>/<name>.yaml or <dir>/<name>.yml in each directory, in order.
func Find(name string, dirs []string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}

	for _, dir := range dirs {
		for _, candidate := range []string{name, name + ".yaml", name + ".yml"} {
			path := filepath.Join(dir, candidate)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}
