// Package critic performs the pessimistic review gate. Reviews come from the
// LLM as JSON issue lists with a mechanical fallback, and a per-content hash
// counter stops the critic from re-litigating the same content forever.
package critic

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"foreman/internal/perception"
)

// Risk levels, most severe first.
type Risk string

const (
	RiskCritical Risk = "critical"
	RiskMajor    Risk = "major"
	RiskMinor    Risk = "minor"
	RiskInfo     Risk = "info"
)

// Verdict is the aggregate recommendation.
type Verdict string

const (
	// VerdictPass lets the result through.
	VerdictPass Verdict = "PASS"
	// VerdictReviewRequired records warnings and deferred items; it never
	// blocks.
	VerdictReviewRequired Verdict = "REVIEW_REQUIRED"
	// VerdictFixRequired triggers one repair prompt.
	VerdictFixRequired Verdict = "FIX_REQUIRED"
)

// Kind selects the review framing.
type Kind string

const (
	KindCode     Kind = "code"
	KindPlan     Kind = "plan"
	KindBusiness Kind = "business"
	KindResearch Kind = "research"
	KindGeneral  Kind = "general"
)

// Issue is one critic finding.
type Issue struct {
	Risk         Risk   `json:"risk"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	SuggestedFix string `json:"suggested_fix"`
}

// Review is the full critique outcome.
type Review struct {
	Verdict Verdict `json:"verdict"`
	Issues  []Issue `json:"issues"`
	Note    string  `json:"note,omitempty"`
}

// MaxRoundsNote marks a review short-circuited by the oscillation cap.
const MaxRoundsNote = "max review rounds reached"

// Critic reviews content pessimistically. One Critic instance is one run's
// worth of anti-oscillation state.
type Critic struct {
	llm      perception.Client
	maxRound int
	logger   *zap.Logger

	mu     sync.Mutex
	rounds map[string]int
}

// New builds a critic. maxRounds caps reviews per distinct content.
func New(llm perception.Client, maxRounds int, logger *zap.Logger) *Critic {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critic{
		llm:      llm,
		maxRound: maxRounds,
		logger:   logger.Named("critic"),
		rounds:   make(map[string]int),
	}
}

// contentHash is a short blake3 digest used as the oscillation key.
func contentHash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// Review critiques content. Above the per-content cap it returns PASS with
// the max-rounds note without calling the LLM.
func (c *Critic) Review(ctx context.Context, content string, kind Kind) (Review, error) {
	hash := contentHash(content)

	c.mu.Lock()
	c.rounds[hash]++
	round := c.rounds[hash]
	c.mu.Unlock()

	if round > c.maxRound {
		c.logger.Debug("oscillation cap reached",
			zap.String("hash", hash),
			zap.Int("round", round))
		return Review{Verdict: VerdictPass, Note: MaxRoundsNote}, nil
	}

	issues, err := c.askLLM(ctx, content, kind)
	if err != nil {
		c.logger.Debug("LLM critique failed, using mechanical scan", zap.Error(err))
		issues = mechanicalScan(content, kind)
	}

	review := Review{Verdict: verdictFor(issues), Issues: issues}
	c.logger.Debug("review complete",
		zap.String("kind", string(kind)),
		zap.String("verdict", string(review.Verdict)),
		zap.Int("issues", len(issues)))
	return review, nil
}

// verdictFor maps issue severities to the aggregate verdict.
func verdictFor(issues []Issue) Verdict {
	hasMajor := false
	for _, is := range issues {
		switch is.Risk {
		case RiskCritical:
			return VerdictFixRequired
		case RiskMajor:
			hasMajor = true
		}
	}
	if hasMajor {
		return VerdictReviewRequired
	}
	return VerdictPass
}

func (c *Critic) askLLM(ctx context.Context, content string, kind Kind) ([]Issue, error) {
	if c.llm == nil {
		return nil, fmt.Errorf("no LLM client")
	}

	prompt := fmt.Sprintf(`You are a pessimistic reviewer. Find real problems in the following %s.
Assume it is broken until proven otherwise. Report concrete, specific issues only.

Respond with ONLY a JSON array. Each element:
{"risk": "critical|major|minor|info", "title": "...", "description": "...", "suggested_fix": "..."}
An empty array means no issues found.

CONTENT:
%s`, kind, truncateForReview(content, 8000))

	resp, err := c.llm.Complete(ctx, prompt, perception.Options{
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	issues, err := parseIssues(resp)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// parseIssues accepts a bare JSON array, possibly wrapped in a fence or
// surrounding prose.
func parseIssues(resp string) ([]Issue, error) {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var issues []Issue
	if err := json.Unmarshal([]byte(resp[start:end+1]), &issues); err != nil {
		return nil, fmt.Errorf("parse issues: %w", err)
	}
	for i := range issues {
		switch issues[i].Risk {
		case RiskCritical, RiskMajor, RiskMinor, RiskInfo:
		default:
			issues[i].Risk = RiskInfo
		}
	}
	return issues, nil
}

// destructiveFragments in generated code are always critical.
var destructiveFragments = []string{"rm -rf", "DROP TABLE", "DROP DATABASE", "shutil.rmtree('/'", "os.system('rm"}

// placeholderFragments downgrade content to major.
var placeholderFragments = []string{"TODO", "TBD", "FIXME", "NotImplementedError", "[Insert", "[insert"}

// mechanicalScan is the parse-failure fallback: cheap substring checks that
// catch the worst offenders without a model.
func mechanicalScan(content string, kind Kind) []Issue {
	if strings.TrimSpace(content) == "" {
		return []Issue{{Risk: RiskInfo, Title: "empty content", Description: "nothing to review"}}
	}

	var issues []Issue
	if kind == KindCode {
		for _, frag := range destructiveFragments {
			if strings.Contains(content, frag) {
				issues = append(issues, Issue{
					Risk:        RiskCritical,
					Title:       "destructive operation",
					Description: "content contains " + frag,
				})
				break
			}
		}
	}
	for _, frag := range placeholderFragments {
		if strings.Contains(content, frag) {
			issues = append(issues, Issue{
				Risk:         RiskMajor,
				Title:        "placeholder content",
				Description:  "content contains " + frag,
				SuggestedFix: "replace the placeholder with a working implementation",
			})
			break
		}
	}
	return issues
}

func truncateForReview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated for review]"
}
