package extract

import (
	"path"
	"regexp"
	"strings"
)

// shadowNames are base names that would shadow a language's standard library
// or a ubiquitous package when written into a project.
var shadowNames = map[string]bool{
	"asyncio.py": true, "os.py": true, "sys.py": true, "json.py": true,
	"time.py": true, "math.py": true, "random.py": true, "re.py": true,
	"typing.py": true, "collections.py": true, "itertools.py": true,
	"functools.py": true, "threading.py": true, "subprocess.py": true,
	"socket.py": true, "logging.py": true, "unittest.py": true,
	"pathlib.py": true, "datetime.py": true, "abc.py": true, "io.py": true,
	"string.py": true, "enum.py": true, "dataclasses.py": true,
	"queue.py": true, "copy.py": true, "pickle.py": true, "sqlite3.py": true,
	"hashlib.py": true, "uuid.py": true,
	"react.js": true, "react-dom.js": true, "vue.js": true, "jquery.js": true,
	"lodash.js": true, "express.js": true, "axios.js": true,
}

// junkNames are re-implementations of language runtime features that models
// emit when they confuse library internals with project code.
var junkNames = map[string]bool{
	"generator_context_manager.py": true,
	"run_until_complete.py":        true,
	"wait_for_task.py":             true,
	"event_loop.py":                true,
	"create_task.py":               true,
	"async_generator.py":           true,
	"coroutine.py":                 true,
	"promise.js":                   true,
	"set_timeout.js":               true,
}

// IsShadowName reports whether a base filename shadows a stdlib module or a
// ubiquitous package. The finalize sweep uses it to purge files that slipped
// in through the sandbox rather than the writer.
func IsShadowName(base string) bool {
	return shadowNames[strings.ToLower(base)]
}

var windowsDrive = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// filter returns a non-empty reason when the artifact path must be rejected.
func (e *Extractor) filter(p string) string {
	if p == "" {
		return "empty path"
	}
	if strings.HasPrefix(p, "/") || windowsDrive.MatchString(p) {
		return "absolute path"
	}
	for _, part := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if part == ".." {
			return "path escapes project"
		}
	}
	base := strings.ToLower(path.Base(p))
	if shadowNames[base] {
		return "shadows a standard library module"
	}
	if junkNames[base] {
		return "junk file: re-implements a language feature"
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return "no file extension"
	}
	if !e.spec.ExtAllowed(ext) {
		return "extension " + ext + " not allowed for " + string(e.ptype) + " projects"
	}
	return ""
}

// proseLine patterns identify trailing narration models append after code.
var prosePrefixes = []string{
	"this implements", "this code", "this file", "let me know",
	"note:", "note that", "in summary", "here's", "here is",
	"the above", "hope this helps",
}

// stripProse removes trailing lines of LLM narration and stray closing
// fences from an artifact body.
func stripProse(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" || last == "```" || isProse(last) {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return strings.Join(lines, "\n")
}

func isProse(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range prosePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	// Markdown bullets after the last code line are narration, but a bullet
	// is code in plenty of languages; only trailing bullets ever reach here.
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return looksLikeSentence(line[2:])
	}
	return false
}

func looksLikeSentence(s string) bool {
	words := strings.Fields(s)
	if len(words) < 3 {
		return false
	}
	for _, w := range words {
		if strings.ContainsAny(w, "={}();") {
			return false
		}
	}
	return true
}
