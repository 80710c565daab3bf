// Package vision calls the external proof extraction provider.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dealport/settle/config"
	"github.com/dealport/settle/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrBadResponse marks provider responses that could not be used.
var ErrBadResponse = errors.New("extraction provider returned an unusable response")

type Options struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// Client posts proof images to the provider. Consecutive failures open a
// circuit breaker so a failing provider is not hammered by every upload.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type extractRequest struct {
	ProofType    model.ProofType    `json:"proof_type"`
	Image        string             `json:"image"`
	Expectations model.Expectations `json:"expectations"`
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	failures := opts.BreakerFailures
	return &Client{
		url:     opts.URL,
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "extraction-provider",
			Timeout: opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("extraction provider breaker changed state")
			},
		}),
	}
}

// NewFromConfig builds a client from the extraction section of cnf.
func NewFromConfig(cnf *config.Configuration) *Client {
	return New(Options{
		URL:             cnf.Extraction.ProviderURL,
		APIKey:          cnf.Extraction.APIKey,
		Timeout:         cnf.ExtractionTimeout(),
		BreakerFailures: cnf.Extraction.BreakerFailures,
		BreakerCooldown: time.Duration(cnf.Extraction.BreakerCooldown) * time.Second,
	})
}

// Extract sends one image to the provider. Transport errors, timeouts, non-2xx
// statuses and undecodable bodies are all returned as errors; a timeout keeps
// context.DeadlineExceeded in its chain.
func (c *Client) Extract(ctx context.Context, proofType model.ProofType, image string, exp model.Expectations) (model.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, proofType, image, exp)
	})
	if err != nil {
		return model.ExtractionResult{}, errors.Wrapf(err, "extracting %s proof", proofType)
	}
	return out.(model.ExtractionResult), nil
}

func (c *Client) call(ctx context.Context, proofType model.ProofType, image string, exp model.Expectations) (model.ExtractionResult, error) {
	body, err := json.Marshal(extractRequest{ProofType: proofType, Image: image, Expectations: exp})
	if err != nil {
		return model.ExtractionResult{}, errors.Wrap(err, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return model.ExtractionResult{}, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.ExtractionResult{}, errors.Wrap(err, "calling provider")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return model.ExtractionResult{}, errors.Wrap(ErrBadResponse, fmt.Sprintf("status %d: %s", resp.StatusCode, snippet))
	}

	var result model.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.ExtractionResult{}, errors.Wrap(ErrBadResponse, "decoding body: "+err.Error())
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return model.ExtractionResult{}, errors.Wrapf(ErrBadResponse, "confidence %v out of range", result.Confidence)
	}
	if result.Fields == nil {
		result.Fields = map[string]interface{}{}
	}
	return result, nil
}
