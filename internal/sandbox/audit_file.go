package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// appendJSONL mirrors an audit entry into the JSONL audit file. Failures are
// swallowed: audit mirroring is best-effort and never affects the run.
func appendJSONL(path string, entry AuditEntry) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}
