package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

const (
	RoleResponder  = "responder"
	RoleClassifier = "classifier"
	RoleGenerator  = "generator"
)

// PromptManager assembles system prompts per role. Files in Directory
// override the embedded defaults of the same name.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetResponderPrompt joins identity.md, responder.md and any extra .md files
// from Directory in that order.
func (pm *PromptManager) GetResponderPrompt() (string, error) {
	order := map[string]int{
		"identity.md":  1,
		"responder.md": 2,
	}
	reserved := map[string]bool{
		"classifier.md": true,
		"generator.md":  true,
	}

	names := []string{"identity.md", "responder.md"}
	if pm.Directory != "" {
		entries, err := os.ReadDir(pm.Directory)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompts directory: %w", err)
		}
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() || !strings.HasSuffix(n, ".md") || reserved[n] || order[n] > 0 {
				continue
			}
			names = append(names, n)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		oi, okI := order[names[i]]
		oj, okJ := order[names[j]]
		if okI && okJ {
			return oi < oj
		}
		if okI != okJ {
			return okI
		}
		return names[i] < names[j]
	})

	contents := make([]string, 0, len(names))
	for _, n := range names {
		data, err := pm.read(n)
		if err != nil {
			return "", err
		}
		contents = append(contents, strings.TrimSpace(data))
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetClassifierPrompt() (string, error) {
	return pm.read("classifier.md")
}

// GetGeneratorPrompt fills the generator template for a reference kind.
func (pm *PromptManager) GetGeneratorPrompt(reference, groups string) (string, error) {
	tmpl, err := pm.read("generator.md")
	if err != nil {
		return "", err
	}
	r := strings.NewReplacer("{{reference}}", reference, "{{groups}}", groups)
	return r.Replace(tmpl), nil
}

func (pm *PromptManager) read(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("no prompt named %s: %w", name, err)
	}
	return string(data), nil
}
