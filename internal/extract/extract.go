// Package extract recovers file artifacts and shell commands from raw LLM
// output. Four recovery strategies run in order; the first that yields
// artifacts wins. Filters then drop paths that escape the project, shadow a
// stdlib module, or carry an extension the project type forbids.
package extract

import (
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"foreman/internal/task"
)

// Artifact is one file recovered from a response.
type Artifact struct {
	Path    string
	Content []byte
	Lang    string
}

// Skip records why a candidate artifact was not kept.
type Skip struct {
	Path   string
	Reason string
}

// Extraction is the full parse result of one response.
type Extraction struct {
	Artifacts []Artifact
	Commands  []string
	Skips     []Skip
}

// Extractor parses responses for one run; the project type steers heuristic
// routing and the extension policy.
type Extractor struct {
	ptype  task.ProjectType
	spec   task.TypeSpec
	logger *zap.Logger
}

// New builds an extractor locked to the run's project type.
func New(ptype task.ProjectType, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		ptype:  ptype,
		spec:   task.SpecFor(ptype),
		logger: logger.Named("extract"),
	}
}

var (
	commandLine = regexp.MustCompile(`(?m)^\s*\[COMMAND\]:\s*(.+)$`)
	// fenceOpen matches ``` with an optional language tag and attributes.
	fenceOpen = regexp.MustCompile("^```([A-Za-z0-9_+-]*)\\s*(.*)$")
	// filenameAttr pulls filename="..." / file="..." / bare filename=... off
	// the fence opening line.
	filenameAttr = regexp.MustCompile(`(?:filename|file)\s*=\s*"?([^"\s]+)"?`)
	// headerComment matches a `// path` or `# path` section header line.
	headerComment = regexp.MustCompile(`^(?://|#)\s*([\w./-]+\.[A-Za-z0-9]+)\s*$`)
	// firstLineComment matches a path named in the first line of a fence
	// body in any common comment syntax.
	firstLineComment = regexp.MustCompile(`^(?:\s*)(?://|#|<!--|/\*)\s*([\w./-]+\.[A-Za-z0-9]+)\s*(?:-->|\*/)?\s*$`)
)

// Extract parses a response into artifacts, commands, and skips. Extraction
// itself never fails; a response with nothing recoverable yields an empty
// Extraction.
func (e *Extractor) Extract(response string) Extraction {
	var out Extraction

	out.Commands = extractCommands(response)

	blocks := parseFences(response)

	// Strategy 1: comment-header split over the whole response.
	candidates := e.commentHeaderSplit(response)

	// Strategy 2: fenced blocks with an explicit filename attribute.
	if len(candidates) == 0 {
		candidates = e.fencedWithFilename(blocks)
	}

	// Strategy 3: first body line names the file.
	if len(candidates) == 0 {
		candidates = e.fencedFirstLineComment(blocks)
	}

	// Strategy 4: heuristic routing by language tag and content.
	if len(candidates) == 0 {
		candidates = e.heuristicRoute(blocks)
	}

	seen := make(map[string]bool)
	for _, c := range candidates {
		c.Content = []byte(stripProse(string(c.Content)))
		if len(strings.TrimSpace(string(c.Content))) == 0 {
			out.Skips = append(out.Skips, Skip{Path: c.Path, Reason: "empty after prose strip"})
			continue
		}
		if reason := e.filter(c.Path); reason != "" {
			e.logger.Debug("artifact rejected",
				zap.String("path", c.Path),
				zap.String("reason", reason))
			out.Skips = append(out.Skips, Skip{Path: c.Path, Reason: reason})
			continue
		}
		if seen[c.Path] {
			out.Skips = append(out.Skips, Skip{Path: c.Path, Reason: "duplicate path in response"})
			continue
		}
		seen[c.Path] = true
		out.Artifacts = append(out.Artifacts, c)
	}
	return out
}

// fencedBlock is one triple-fenced region of the response.
type fencedBlock struct {
	Lang  string
	Attrs string
	Body  string
}

func parseFences(response string) []fencedBlock {
	var blocks []fencedBlock
	lines := strings.Split(response, "\n")
	var cur *fencedBlock
	var body []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if cur == nil {
			if m := fenceOpen.FindStringSubmatch(trimmed); m != nil && strings.HasPrefix(trimmed, "```") {
				cur = &fencedBlock{Lang: strings.ToLower(m[1]), Attrs: m[2]}
				body = body[:0]
			}
			continue
		}
		if trimmed == "```" {
			cur.Body = strings.Join(body, "\n")
			blocks = append(blocks, *cur)
			cur = nil
			continue
		}
		body = append(body, line)
	}
	// An unterminated fence still counts; models drop closers under length
	// pressure.
	if cur != nil && len(body) > 0 {
		cur.Body = strings.Join(body, "\n")
		blocks = append(blocks, *cur)
	}
	return blocks
}

func extractCommands(response string) []string {
	var cmds []string
	for _, m := range commandLine.FindAllStringSubmatch(response, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			cmds = append(cmds, c)
		}
	}
	for _, b := range parseFences(response) {
		if b.Lang != "bash" && b.Lang != "sh" && b.Lang != "shell" {
			continue
		}
		for _, line := range strings.Split(b.Body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			cmds = append(cmds, line)
		}
	}
	return cmds
}

// commentHeaderSplit scans for leading `// path` or `# path` lines outside
// fences and splits the body between successive headers.
func (e *Extractor) commentHeaderSplit(response string) []Artifact {
	lines := strings.Split(response, "\n")
	type section struct {
		path  string
		start int
	}
	var sections []section
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerComment.FindStringSubmatch(trimmed); m != nil {
			p := m[1]
			// A header must look like a path: contain a slash or a known
			// source extension, or the heuristic misfires on ordinary
			// comments.
			if strings.Contains(p, "/") || knownExt(path.Ext(p)) {
				sections = append(sections, section{path: p, start: i})
			}
		}
	}
	if len(sections) == 0 {
		return nil
	}

	var arts []Artifact
	for i, sec := range sections {
		end := len(lines)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		body := strings.Join(lines[sec.start+1:end], "\n")
		// Drop fence markers inside the section body.
		var kept []string
		for _, l := range strings.Split(body, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), "```") {
				continue
			}
			kept = append(kept, l)
		}
		body = strings.TrimRight(strings.Join(kept, "\n"), "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		arts = append(arts, Artifact{Path: sec.path, Content: []byte(body), Lang: langForExt(path.Ext(sec.path))})
	}
	return arts
}

func (e *Extractor) fencedWithFilename(blocks []fencedBlock) []Artifact {
	var arts []Artifact
	for _, b := range blocks {
		m := filenameAttr.FindStringSubmatch(b.Attrs)
		if m == nil {
			continue
		}
		arts = append(arts, Artifact{Path: m[1], Content: []byte(b.Body), Lang: b.Lang})
	}
	return arts
}

func (e *Extractor) fencedFirstLineComment(blocks []fencedBlock) []Artifact {
	var arts []Artifact
	for _, b := range blocks {
		lines := strings.SplitN(b.Body, "\n", 2)
		if len(lines) == 0 {
			continue
		}
		m := firstLineComment.FindStringSubmatch(lines[0])
		if m == nil || !strings.Contains(m[1], ".") {
			continue
		}
		rest := ""
		if len(lines) == 2 {
			rest = lines[1]
		}
		arts = append(arts, Artifact{Path: m[1], Content: []byte(rest), Lang: b.Lang})
	}
	return arts
}
