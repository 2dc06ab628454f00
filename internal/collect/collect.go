package collect

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/logging"
)

// Source availability as reported by CheckSources.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// SourceStatus is the result of probing one source URL.
type SourceStatus struct {
	Name      string
	URL       string
	Category  string
	Status    string
	Error     string
	CheckedAt time.Time
}

// Checker probes configured sources with HEAD requests.
type Checker struct {
	client *resty.Client
	log    *zap.Logger
}

// NewChecker creates a source checker.
func NewChecker(client *resty.Client, log *zap.Logger) *Checker {
	return &Checker{client: client, log: logging.OrNop(log)}
}

// CheckSources probes every source in order. A source is active when it
// answers 200, inactive for any other status, and error when unreachable.
func (c *Checker) CheckSources(ctx context.Context, sources []config.Source) []SourceStatus {
	out := make([]SourceStatus, 0, len(sources))
	for _, s := range sources {
		st := SourceStatus{
			Name:      s.Name,
			URL:       s.URL,
			Category:  s.Category,
			CheckedAt: time.Now(),
		}

		resp, err := c.client.R().SetContext(ctx).Head(s.URL)
		switch {
		case err != nil:
			st.Status = StatusError
			st.Error = err.Error()
		case resp.StatusCode() == http.StatusOK:
			st.Status = StatusActive
		default:
			st.Status = StatusInactive
		}

		c.log.Debug("checked source",
			zap.String("source", s.Name),
			zap.String("status", st.Status))
		out = append(out, st)
	}
	return out
}
