// Package adminlist fetches and parses server admin configuration. The
// resulting list is an annotation source only: it marks players as
// admins on outgoing events and never participates in state
// transitions.
package adminlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/squad"
)

// Admin config line formats. Steam ids are 17 digits, EOS ids 32 hex
// characters; everything after // on a line is a comment.
var (
	groupPattern = regexp.MustCompile(`(?m)^Group=(.*?):(.*?)(?:\r|\s*//|$)`)
	adminPattern = regexp.MustCompile(`(?m)^Admin=(\d{17}|[a-f0-9]{32}):(\S+)`)
	permSplit    = regexp.MustCompile(`\s*,\s*`)
)

// List is a parsed admin configuration: groups with their permissions,
// and per-player group membership keyed by platform id.
type List struct {
	// Groups maps a group name to its permissions.
	Groups map[string][]string
	// Members maps a player's platform id to the groups granted to it.
	Members map[string][]string
}

// Permissions returns the union of permissions granted to any of the
// player's platform ids.
func (l List) Permissions(ids squad.OnlineIDs) []string {
	var perms []string
	seen := map[string]struct{}{}
	for _, id := range ids {
		for _, group := range l.Members[id] {
			for _, perm := range l.Groups[group] {
				if _, ok := seen[perm]; ok {
					continue
				}
				seen[perm] = struct{}{}
				perms = append(perms, perm)
			}
		}
	}
	return perms
}

// IsAdmin reports whether any of the player's platform ids belongs to
// an admin group.
func (l List) IsAdmin(ids squad.OnlineIDs) bool {
	for _, id := range ids {
		if len(l.Members[id]) > 0 {
			return true
		}
	}
	return false
}

// Parse reads an Admins.cfg-format document.
func Parse(content string) List {
	list := List{
		Groups:  map[string][]string{},
		Members: map[string][]string{},
	}
	for _, m := range groupPattern.FindAllStringSubmatch(content, -1) {
		perms := permSplit.Split(m[2], -1)
		kept := perms[:0]
		for _, p := range perms {
			if p != "" {
				kept = append(kept, p)
			}
		}
		list.Groups[m[1]] = kept
	}
	for _, m := range adminPattern.FindAllStringSubmatch(content, -1) {
		list.Members[m[1]] = append(list.Members[m[1]], m[2])
	}
	return list
}

// Source yields the raw admin configuration document.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// FileSource reads the configuration from a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(context.Context) (string, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read admin list %s: %w", s.Path, err)
	}
	return string(content), nil
}

// HTTPSource fetches the configuration from a remote URL, the way
// multi-server communities share one admin list.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Fetch(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build admin list request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch admin list %s: %w", s.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch admin list %s: status %d", s.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read admin list %s: %w", s.URL, err)
	}
	return string(body), nil
}

// Service merges every configured source into one list.
type Service struct {
	sources []Source
	log     zerolog.Logger
}

// NewService returns a service over the given sources.
func NewService(sources []Source, logger zerolog.Logger) *Service {
	return &Service{
		sources: sources,
		log:     logger.With().Str("module", "adminlist").Logger(),
	}
}

// Load fetches and merges all sources. A source that fails to fetch is
// logged and skipped so one dead remote never empties the whole list.
func (s *Service) Load(ctx context.Context) List {
	merged := List{
		Groups:  map[string][]string{},
		Members: map[string][]string{},
	}
	for _, source := range s.sources {
		content, err := source.Fetch(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("admin list source failed, skipping")
			continue
		}
		list := Parse(content)
		for group, perms := range list.Groups {
			merged.Groups[group] = perms
		}
		for id, groups := range list.Members {
			merged.Members[id] = append(merged.Members[id], groups...)
		}
	}
	return merged
}
