package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"flowScope/converter"
)

type Config struct {
	PyroscopeURL string
	AuthToken    string
	AppName      string
	Unit         string // Unit of the profile's wall samples
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Sender pushes rendered session profiles to a Pyroscope server.
type Sender struct {
	config Config
	client *http.Client
	now    func() time.Time
	log    *slog.Logger
}

func New(config Config) *Sender {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		config: config,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
		log: log,
	}
}

// AppName returns the Pyroscope application name with labels appended in
// Pyroscope's "name{k=v,...}" form, keys sorted.
func (s *Sender) AppName(labels map[string]string) string {
	if len(labels) == 0 {
		return s.config.AppName
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return s.config.AppName + "{" + strings.Join(pairs, ",") + "}"
}

// SendProfile uploads prof to Pyroscope's ingest endpoint as multipart form data.
func (s *Sender) SendProfile(ctx context.Context, prof *profile.Profile, labels map[string]string) error {
	// Validate the profile
	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}

	sampleTypeConfigJSON, err := json.Marshal(converter.SampleTypeConfig(s.config.Unit))
	if err != nil {
		return fmt.Errorf("marshalling sampleTypeConfig: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	profilePart, err := writer.CreateFormFile("profile", "profile.pprof")
	if err != nil {
		return fmt.Errorf("creating profile part: %w", err)
	}
	if _, err := profilePart.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing profile data: %w", err)
	}

	sampleTypeConfigPart, err := writer.CreateFormFile("sample_type_config", "config.json")
	if err != nil {
		return fmt.Errorf("creating sample_type_config part: %w", err)
	}
	if _, err := sampleTypeConfigPart.Write(sampleTypeConfigJSON); err != nil {
		return fmt.Errorf("writing sample_type_config data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}

	// The profile covers DurationNanos ending now
	until := s.now()
	from := until.Add(-time.Duration(prof.DurationNanos))

	params := url.Values{}
	params.Set("name", s.AppName(labels))
	params.Set("from", fmt.Sprint(from.Unix()))
	params.Set("until", fmt.Sprint(until.Unix()))

	endpoint := fmt.Sprintf("%s/ingest?%s", strings.TrimRight(s.config.PyroscopeURL, "/"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(respBody))
	}
	s.log.Debug("profile sent", "name", params.Get("name"), "bytes", buf.Len())

	return nil
}
