package contract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
)

func TestLoadEmbedded(t *testing.T) {
	doc, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", doc.Version())
	assert.Equal(t, []string{"commands/{operation}", "events/{event}", "results/{operation}", "transfers/{operation}"}, doc.Channels())
	assert.Contains(t, string(doc.YAML()), "asyncapi: 3.0.0")
	assert.Contains(t, string(doc.YAML()), "defaultContentType: "+envelope.ContentType)
}

func TestJSONRendering(t *testing.T) {
	doc, err := Load("")
	require.NoError(t, err)

	raw, err := doc.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "3.0.0", decoded["asyncapi"])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("asyncapi: 3.0.0\ninfo:\n  version: 9.9.9\nchannels:\n  c:\n    address: a/b\n"), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", doc.Version())
	assert.Equal(t, []string{"a/b"}, doc.Channels())
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	_, err := Parse([]byte("not: [valid"))
	assert.Error(t, err)

	_, err = Parse([]byte("info:\n  version: 1\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
