package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-ingest/internal/db"
	"github.com/sells-group/listing-ingest/internal/model"
)

// Validate checks the settings a command needs. mode is one of "ingest",
// "audit", "serve" or "migrate". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "ingest":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateIngest()...)
	case "audit":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateAudit()...)
	case "serve":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateIngest()...)
		problems = append(problems, c.validateAudit()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "migrate":
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported (postgres, sqlite)", c.Store.Driver))
	}
	return problems
}

func (c *Config) validateIngest() []string {
	var problems []string

	if c.Source.IndexURL == "" {
		problems = append(problems, "source.index_url is required")
	} else if u, err := url.Parse(c.Source.IndexURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, "source.index_url must be an absolute http(s) URL")
	}
	if len(c.Source.LinkPatterns) == 0 {
		problems = append(problems, "source.link_patterns must not be empty")
	}
	if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 32 {
		problems = append(problems, "ingest.concurrency must be between 1 and 32")
	}
	if c.Ingest.MaxCandidates < 1 {
		problems = append(problems, "ingest.max_candidates must be > 0")
	}
	if c.Ingest.DeadlineSecs < 1 {
		problems = append(problems, "ingest.deadline_secs must be > 0")
	}
	if c.Fetch.TimeoutSecs < 1 {
		problems = append(problems, "fetch.timeout_secs must be > 0")
	}
	if c.Normalize.DefaultPrice <= 0 {
		problems = append(problems, "normalize.default_price must be > 0")
	}
	if c.Normalize.MaxSlugLength < 8 {
		problems = append(problems, "normalize.max_slug_length must be >= 8")
	}
	if c.Normalize.DefaultNeighborhood == "" {
		problems = append(problems, "normalize.default_neighborhood is required")
	}
	return problems
}

func (c *Config) validateAudit() []string {
	var problems []string

	check := func(targets []string, kind model.ColumnKind) {
		for _, t := range targets {
			ref, ok := model.ParseColumnRef(t, kind)
			if !ok {
				problems = append(problems, fmt.Sprintf("audit target %q must be table.column", t))
				continue
			}
			if !db.IsSafeIdent(ref.Table) || !db.IsSafeIdent(ref.Column) {
				problems = append(problems, fmt.Sprintf("audit target %q contains an unsafe identifier", t))
			}
		}
	}
	check(c.Audit.Targets, model.ColumnContent)
	check(c.Audit.SlugTargets, model.ColumnSlug)

	if len(c.Audit.Targets)+len(c.Audit.SlugTargets) == 0 {
		problems = append(problems, "audit.targets and audit.slug_targets are both empty")
	}
	if c.Audit.BatchSize < 1 {
		problems = append(problems, "audit.batch_size must be > 0")
	}
	if c.Audit.MaxRows < c.Audit.BatchSize {
		problems = append(problems, "audit.max_rows must be >= audit.batch_size")
	}
	return problems
}
