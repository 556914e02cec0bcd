package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
)

const (
	// ManifestFile sits at the root of every bundle.
	ManifestFile = "manifest.json"
	// ManifestVersion is the bundle format this build writes.
	ManifestVersion = "1.0"
	// BundleExt is the container suffix.
	BundleExt = ".zip"
)

// Contents summarizes what a bundle carries.
type Contents struct {
	ScenarioCount  int      `json:"scenario_count"`
	Scenarios      []string `json:"scenarios"`
	FileCount      int      `json:"file_count"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	ChecksumSHA256 string   `json:"checksum_sha256"`
}

// Manifest is the JSON header of a workspace bundle. The checksum covers the
// workspace.json bytes as exported.
type Manifest struct {
	Version       string    `json:"version"`
	ExportDate    time.Time `json:"export_date"`
	AppVersion    string    `json:"app_version"`
	WorkspaceID   string    `json:"workspace_id"`
	WorkspaceName string    `json:"workspace_name"`
	Contents      Contents  `json:"contents"`
}

const manifestSchemaJSON = `{
  "type": "object",
  "required": ["version", "export_date", "workspace_id", "workspace_name", "contents"],
  "properties": {
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+$"},
    "export_date": {"type": "string"},
    "app_version": {"type": "string"},
    "workspace_id": {"type": "string", "minLength": 1},
    "workspace_name": {"type": "string", "minLength": 1},
    "contents": {
      "type": "object",
      "required": ["scenario_count", "checksum_sha256"],
      "properties": {
        "scenario_count": {"type": "integer", "minimum": 0},
        "scenarios": {"type": "array", "items": {"type": "string"}},
        "file_count": {"type": "integer", "minimum": 0},
        "total_size_bytes": {"type": "integer", "minimum": 0},
        "checksum_sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
      }
    }
  }
}`

var manifestSchema = mustCompileSchema(manifestSchemaJSON)

func mustCompileSchema(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.schema.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile("manifest.schema.json")
}

// parseManifest checks raw bytes against the manifest schema and decodes
// them. Schema violations are validation faults with the offending detail.
func parseManifest(data []byte) (*Manifest, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "manifest.json is not valid JSON")
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "manifest.json does not match the bundle schema")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "manifest.json could not be decoded")
	}
	return &m, nil
}

// newerFormat reports whether a bundle's format version is above what this
// build writes. Unparseable versions compare as not-newer; the schema check
// already rejected anything malformed.
func newerFormat(version string) bool {
	maj, min, ok := splitVersion(version)
	if !ok {
		return false
	}
	curMaj, curMin, _ := splitVersion(ManifestVersion)
	if maj != curMaj {
		return maj > curMaj
	}
	return min > curMin
}

func splitVersion(v string) (major, minor int, ok bool) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func jsonIndent(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "json encoding failed")
	}
	return data, nil
}

// checksumFile is the hex SHA-256 of a file's contents.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
