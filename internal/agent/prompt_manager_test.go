package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptManager_EmbeddedDefaults(t *testing.T) {
	pm := NewPromptManager("")

	prompt, err := pm.GetResponderPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "# Identity")
	assert.Contains(t, prompt, "# Responder Directive")
	assert.Less(t, strings.Index(prompt, "# Identity"), strings.Index(prompt, "# Responder Directive"))

	cls, err := pm.GetClassifierPrompt()
	require.NoError(t, err)
	assert.Contains(t, cls, "record_intent")

	gen, err := pm.GetGeneratorPrompt("company", "- ein: ein")
	require.NoError(t, err)
	assert.Contains(t, gen, "for a company client")
	assert.Contains(t, gen, "- ein: ein")
	assert.NotContains(t, gen, "{{")
}

func TestPromptManager_DirectoryOverridesAndExtras(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"identity.md":   "Identity Content",
		"zz_tone.md":    "Tone Content",
		"aa_house.md":   "House Content",
		"classifier.md": "Classifier Override",
		"notes.txt":     "ignored",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	pm := NewPromptManager(dir)
	prompt, err := pm.GetResponderPrompt()
	require.NoError(t, err)

	for _, part := range []string{"Identity Content", "# Responder Directive", "House Content", "Tone Content"} {
		assert.Contains(t, prompt, part)
	}
	assert.NotContains(t, prompt, "Classifier Override")
	assert.NotContains(t, prompt, "ignored")

	// Verify order
	assert.Less(t, strings.Index(prompt, "Identity Content"), strings.Index(prompt, "# Responder Directive"))
	assert.Less(t, strings.Index(prompt, "# Responder Directive"), strings.Index(prompt, "House Content"))
	assert.Less(t, strings.Index(prompt, "House Content"), strings.Index(prompt, "Tone Content"))

	cls, err := pm.GetClassifierPrompt()
	require.NoError(t, err)
	assert.Equal(t, "Classifier Override", cls)
}

func TestPromptManager_MissingDirectoryFallsBack(t *testing.T) {
	pm := NewPromptManager(filepath.Join(t.TempDir(), "nope"))
	prompt, err := pm.GetResponderPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "# Identity")
}
