package llms

import (
	"net/http"
	"time"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/httpclient"
)

func createHTTPClient(cfg *config.LLMProviderConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(parser),
	)
}
