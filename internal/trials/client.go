// Package trials queries the clinicaltrials.gov study_fields API for the
// trials that mention known compound names.
package trials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/config"
)

// pageSize is the rank window requested per call; the API caps a single
// response at 1000 studies.
const pageSize = 1000

const studyFields = "OrgStudyId,NCTId,OverallStatus,SeeAlsoLinkURL"

// Study is one clinical trial matched to the compound name that found it.
type Study struct {
	NCT      string
	Status   string
	Link     string
	Compound string
}

// Failure records a compound whose lookup did not succeed after all retry
// attempts.
type Failure struct {
	Compound string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("compound %s: %v", f.Compound, f.Err)
}

// Result holds every fetched study plus the per-compound failures. A failed
// compound never aborts the fetch; callers decide how to treat Failures.
type Result struct {
	Studies  []Study
	Failures []Failure
}

// Client fetches studies from the study_fields API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	chunkSize   int
	maxAttempts int
	workers     int
	logger      *zap.Logger
}

// NewClient builds a client from the trials configuration. The zero values
// of cfg fall back to the package defaults so tests can set only BaseURL.
func NewClient(cfg config.Trials, httpClient *http.Client, logger *zap.Logger) *Client {
	defaults := config.Default().Trials
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  httpClient,
		chunkSize:   cfg.ChunkSize,
		maxAttempts: cfg.MaxAttempts,
		workers:     cfg.Workers,
		logger:      logger,
	}
}

// Fetch queries the API for every compound name, fanning chunks of names out
// to a bounded worker pool. The returned studies are sorted so repeated runs
// produce identical tables.
func (c *Client) Fetch(ctx context.Context, compoundNames []string) (*Result, error) {
	chunks := chunkStrings(compoundNames, c.chunkSize)
	jobs := make(chan []string)

	var mu sync.Mutex
	result := &Result{}

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Keep receiving after cancellation so the producer can finish
			// sending; a worker that returns early would deadlock Fetch.
			for chunk := range jobs {
				if ctx.Err() != nil {
					continue
				}
				for _, name := range chunk {
					if ctx.Err() != nil {
						break
					}
					studies, err := c.fetchCompound(ctx, name)
					mu.Lock()
					if err != nil {
						result.Failures = append(result.Failures, Failure{Compound: name, Err: err})
					} else {
						result.Studies = append(result.Studies, studies...)
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(result.Studies, func(a, b int) bool {
		if result.Studies[a].Compound != result.Studies[b].Compound {
			return result.Studies[a].Compound < result.Studies[b].Compound
		}
		return result.Studies[a].NCT < result.Studies[b].NCT
	})
	sort.Slice(result.Failures, func(a, b int) bool {
		return result.Failures[a].Compound < result.Failures[b].Compound
	})
	if len(result.Failures) > 0 {
		c.logger.Warn("some compound lookups failed",
			zap.Int("failed", len(result.Failures)),
			zap.Int("total", len(compoundNames)))
	}
	return result, nil
}

// fetchCompound pages through every study for one compound name.
func (c *Client) fetchCompound(ctx context.Context, name string) ([]Study, error) {
	var studies []Study
	minRank := 1
	for {
		page, err := c.fetchPage(ctx, name, minRank, minRank+pageSize-1)
		if err != nil {
			return nil, err
		}
		for _, sf := range page.StudyFields {
			studies = append(studies, Study{
				NCT:      firstOf(sf.NCTID),
				Status:   firstOf(sf.OverallStatus),
				Link:     firstOf(sf.SeeAlsoLinkURL),
				Compound: name,
			})
		}
		if minRank+page.NStudiesReturned > page.NStudiesFound || page.NStudiesReturned == 0 {
			return studies, nil
		}
		minRank += pageSize
	}
}

type studyField struct {
	NCTID          []string `json:"NCTId"`
	OverallStatus  []string `json:"OverallStatus"`
	SeeAlsoLinkURL []string `json:"SeeAlsoLinkURL"`
}

type studyFieldsResponse struct {
	StudyFieldsResponse studyPage `json:"StudyFieldsResponse"`
}

type studyPage struct {
	NStudiesFound    int          `json:"NStudiesFound"`
	NStudiesReturned int          `json:"NStudiesReturned"`
	StudyFields      []studyField `json:"StudyFields"`
}

// fetchPage makes one API call, retrying up to maxAttempts on transport
// errors and non-200 statuses.
func (c *Client) fetchPage(ctx context.Context, name string, minRank, maxRank int) (*studyPage, error) {
	params := url.Values{}
	params.Set("expr", name)
	params.Set("fields", studyFields)
	params.Set("min_rnk", fmt.Sprint(minRank))
	params.Set("max_rnk", fmt.Sprint(maxRank))
	params.Set("fmt", "json")
	endpoint := c.baseURL + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.doRequest(ctx, endpoint)
		if err == nil {
			return page, nil
		}
		lastErr = err
		c.logger.Debug("study_fields request failed",
			zap.String("compound", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint string) (*studyPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var decoded studyFieldsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &decoded.StudyFieldsResponse, nil
}

func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for len(values) > size {
		chunks = append(chunks, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
