// Package selector chooses a candidate (repository, file, content)
// triple for a target language, subject to an extension allowlist, a
// denylist of binary/minified/generated paths, and a byte-size window.
package selector

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/githost"
)

// Order is the caller's traversal policy over a fetched candidate
// list. The selector itself is order-agnostic.
type Order string

const (
	OrderForward Order = "forward"
	OrderReverse Order = "reverse"
	OrderRandom  Order = "random"
)

// Size window: too small is uninteresting, too large blows the model
// context budget.
const (
	MinFileBytes = 200
	MaxFileBytes = 64 * 1024
)

// languageExtensions maps a target language to its source extensions.
var languageExtensions = map[string][]string{
	"go":         {".go"},
	"python":     {".py"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"java":       {".java"},
	"rust":       {".rs"},
	"c":          {".c", ".h"},
	"cpp":        {".cc", ".cpp", ".hpp"},
	"ruby":       {".rb"},
}

// Languages lists every supported target language in sorted order, so
// the nth seeded draw always lands on the same language.
func Languages() []string {
	out := make([]string, 0, len(languageExtensions))
	for lang := range languageExtensions {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// blockedSubstrings reject vendored, generated and minified paths.
var blockedSubstrings = []string{
	".min.js",
	".min.css",
	"-lock.",
	".lock",
	"vendor/",
	"node_modules/",
	"third_party/",
	"testdata/",
	"dist/",
	"build/",
	".pb.go",
	"_generated",
	".generated.",
	"bundle.js",
}

// HostClient is the slice of the code-hosting API the selector needs.
type HostClient interface {
	SearchRepos(ctx context.Context, language string, page, perPage int) ([]githost.Repo, error)
	ListFiles(ctx context.Context, owner, repo, ref string) ([]githost.TreeEntry, error)
	FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Candidate is one selected (repository, file, content) triple.
type Candidate struct {
	Repo    githost.Repo
	Path    string
	Size    int
	Content string
}

// Key identifies the candidate for exclusion between attempts.
func (c *Candidate) Key() string {
	return c.Repo.FullName + "/" + c.Path
}

// Config bounds the selection walk.
type Config struct {
	Order        Order
	MaxRepoPages int // search pages to consider
	ReposPerPage int
	MaxFilesTry  int // files probed per repository before moving on
}

// DefaultConfig returns the limits used by the daemon.
func DefaultConfig() Config {
	return Config{
		Order:        OrderRandom,
		MaxRepoPages: 3,
		ReposPerPage: 30,
		MaxFilesTry:  8,
	}
}

// Selector walks repositories and files until a usable candidate is
// found. All randomness flows through the injected Rand so a seed makes
// the walk reproducible.
type Selector struct {
	host  HostClient
	cache *cache.ContentCache
	rng   *Rand
	cfg   Config
}

// New creates a selector. The content cache is optional.
func New(host HostClient, contentCache *cache.ContentCache, rng *Rand, cfg Config) *Selector {
	if rng == nil {
		rng = NewTimeRand()
	}
	if cfg.MaxRepoPages <= 0 {
		cfg.MaxRepoPages = 3
	}
	if cfg.ReposPerPage <= 0 {
		cfg.ReposPerPage = 30
	}
	if cfg.MaxFilesTry <= 0 {
		cfg.MaxFilesTry = 8
	}
	return &Selector{host: host, cache: contentCache, rng: rng, cfg: cfg}
}

// Pick returns one candidate for the language, skipping any candidate
// whose Key appears in exclude. A rate-limit error from the host
// propagates unchanged; every other upstream failure advances to the
// next candidate. ErrNoCandidate means the walk was exhausted.
func (s *Selector) Pick(ctx context.Context, language string, exclude map[string]bool) (*Candidate, error) {
	exts, ok := languageExtensions[strings.ToLower(language)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported language %q", domain.ErrInvalidInput, language)
	}

	page := 1 + s.rng.Intn(s.cfg.MaxRepoPages)
	repos, err := s.host.SearchRepos(ctx, language, page, s.cfg.ReposPerPage)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: repository listing failed: %v", domain.ErrNoCandidate, err)
	}
	s.applyOrder(len(repos), func(i, j int) { repos[i], repos[j] = repos[j], repos[i] })
	if s.cfg.Order == OrderReverse {
		reverseRepos(repos)
	}

	for _, repo := range repos {
		cand, err := s.pickFromRepo(ctx, repo, exts, exclude)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			continue // skip to next candidate repository
		}
		return cand, nil
	}

	return nil, domain.ErrNoCandidate
}

func (s *Selector) pickFromRepo(ctx context.Context, repo githost.Repo, exts []string, exclude map[string]bool) (*Candidate, error) {
	entries, err := s.host.ListFiles(ctx, repo.Owner, repo.Name, repo.DefaultBranch)
	if err != nil {
		return nil, err
	}

	eligible := make([]githost.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if !Eligible(e.Path, e.Size, exts) {
			continue
		}
		if exclude[repo.FullName+"/"+e.Path] {
			continue
		}
		eligible = append(eligible, e)
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNoCandidate
	}

	s.applyOrder(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

	tries := s.cfg.MaxFilesTry
	if tries > len(eligible) {
		tries = len(eligible)
	}
	for _, e := range eligible[:tries] {
		content, err := s.fetchContent(ctx, repo, e.Path)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			continue
		}
		// The tree listing's size can be stale; re-check on the real bytes.
		if len(content) < MinFileBytes || len(content) > MaxFileBytes {
			continue
		}
		return &Candidate{Repo: repo, Path: e.Path, Size: len(content), Content: content}, nil
	}

	return nil, domain.ErrNoCandidate
}

func (s *Selector) fetchContent(ctx context.Context, repo githost.Repo, filePath string) (string, error) {
	key := cache.ContentKey(repo.Owner, repo.Name, filePath, repo.DefaultBranch)
	if s.cache != nil {
		if content, ok := s.cache.Get(key); ok {
			return content, nil
		}
	}

	content, err := s.host.FetchFile(ctx, repo.Owner, repo.Name, filePath, repo.DefaultBranch)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Put(key, content)
	}
	return content, nil
}

// applyOrder shuffles in random mode; forward and reverse leave the
// shuffle out and the caller handles direction.
func (s *Selector) applyOrder(n int, swap func(i, j int)) {
	if s.cfg.Order == OrderRandom {
		s.rng.Shuffle(n, swap)
	}
}

func reverseRepos(repos []githost.Repo) {
	for i, j := 0, len(repos)-1; i < j; i, j = i+1, j-1 {
		repos[i], repos[j] = repos[j], repos[i]
	}
}

// Eligible reports whether a path/size pair passes the allowlist,
// denylist and size window. Paths containing the identity delimiter are
// rejected outright so they can never corrupt a puzzle key.
func Eligible(filePath string, size int, exts []string) bool {
	if size < MinFileBytes || size > MaxFileBytes {
		return false
	}
	if strings.Contains(filePath, domain.IdentityDelimiter) {
		return false
	}

	lower := strings.ToLower(filePath)
	for _, blocked := range blockedSubstrings {
		if strings.Contains(lower, blocked) {
			return false
		}
	}

	ext := path.Ext(lower)
	for _, allowed := range exts {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ExtensionsFor exposes the allowlist for a language, empty when the
// language is unsupported.
func ExtensionsFor(language string) []string {
	return languageExtensions[strings.ToLower(language)]
}
