package ollama

import (
	"github.com/tidwall/sjson"
)

// TagsResponse synthesizes an /api/tags listing from the profile's
// current catalog model ids.
func TagsResponse(models []string) []byte {
	out := []byte(`{"models":[]}`)
	for _, m := range models {
		entry := []byte(`{}`)
		entry, _ = sjson.SetBytes(entry, "name", m)
		entry, _ = sjson.SetBytes(entry, "model", m)
		out, _ = sjson.SetRawBytes(out, "models.-1", entry)
	}
	return out
}

// VersionResponse is the static /api/version stub.
func VersionResponse() []byte {
	return []byte(`{"version":"0.1.0"}`)
}

// HealthResponse is the static /api/health stub.
func HealthResponse() []byte {
	return []byte(`{"status":"ok"}`)
}

// PullEvents returns the three-event NDJSON sequence for /api/pull.
func PullEvents(model string) [][]byte {
	manifest := []byte(`{}`)
	manifest, _ = sjson.SetBytes(manifest, "status", "pulling manifest")

	downloading := []byte(`{}`)
	downloading, _ = sjson.SetBytes(downloading, "status", "downloading")
	downloading, _ = sjson.SetBytes(downloading, "digest", "sha256:"+model)
	downloading, _ = sjson.SetBytes(downloading, "total", 1)
	downloading, _ = sjson.SetBytes(downloading, "completed", 1)

	success := []byte(`{}`)
	success, _ = sjson.SetBytes(success, "status", "success")

	return [][]byte{manifest, downloading, success}
}
