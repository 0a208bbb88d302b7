package validate

import (
	"bytes"
	"path"
	"strings"

	"golang.org/x/net/html"

	"foreman/internal/project"
)

// checkHTML parses the document and reports structural anomalies the
// tokenizer can see. x/net/html recovers from almost anything, so this pass
// is best-effort by construction.
func checkHTML(rel string, content []byte) []Issue {
	_, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return []Issue{{File: rel, Line: 1, Message: "invalid HTML: " + err.Error(), Kind: "syntax"}}
	}
	return nil
}

// auditAssets walks an HTML file's src/href references and reports relative
// ones that resolve to no indexed or on-disk file.
func (v *Validator) auditAssets(p *project.Project, rel string, content []byte) []Issue {
	if ext := strings.ToLower(path.Ext(rel)); ext != ".html" && ext != ".htm" {
		return nil
	}

	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil
	}

	var issues []Issue
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "src" && attr.Key != "href" {
					continue
				}
				ref := strings.TrimSpace(attr.Val)
				if ref == "" || seen[ref] || !isRelativeAsset(ref) {
					continue
				}
				seen[ref] = true
				resolved := path.Clean(path.Join(path.Dir(rel), strings.TrimPrefix(ref, "./")))
				if p.Index().Has(resolved) || p.Exists(resolved) {
					continue
				}
				issues = append(issues, Issue{
					File:    rel,
					Message: "missing asset " + ref,
					Kind:    "missing_asset",
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return issues
}

func isRelativeAsset(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"),
		strings.HasPrefix(ref, "//"), strings.HasPrefix(ref, "#"),
		strings.HasPrefix(ref, "mailto:"), strings.HasPrefix(ref, "data:"),
		strings.HasPrefix(ref, "tel:"), strings.HasPrefix(ref, "/"):
		return false
	}
	// Only audit references that look like files.
	return path.Ext(ref) != ""
}
