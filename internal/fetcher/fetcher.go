// Package fetcher queries the airplanes.live circle endpoint and normalizes the
// aircraft records it returns.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// ErrNoArray is returned when a payload has no locatable aircraft array
var ErrNoArray = errors.New("no aircraft array in payload")

// maxBodySize caps how much of a response is read
const maxBodySize = 32 << 20

// FetchError describes a failed circle query
type FetchError struct {
	Circle     types.Circle
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Circle, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Circle, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request could succeed
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, ErrNoArray)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// HTTPClient is the subset of *http.Client used by the fetcher
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches aircraft observations for a circle
type Client struct {
	baseURL string
	http    HTTPClient
	now     func() time.Time
}

// New creates a new fetcher client
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithClient(baseURL, &http.Client{Timeout: timeout}, time.Now)
}

// NewWithClient creates a fetcher with a custom HTTP client and clock (useful for testing)
func NewWithClient(baseURL string, client HTTPClient, now func() time.Time) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		now:     now,
	}
}

// URL returns the endpoint queried for a circle
func (c *Client) URL(circle types.Circle) string {
	return fmt.Sprintf("%s/point/%s/%s/%s", c.baseURL,
		formatCoord(circle.Lat), formatCoord(circle.Lon), formatCoord(circle.RadiusNM))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fetch queries one circle and returns its normalized observations. Every
// observation of the call carries the same capture time.
func (c *Client) Fetch(ctx context.Context, circle types.Circle) ([]types.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(circle), nil)
	if err != nil {
		return nil, &FetchError{Circle: circle, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Circle: circle, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{Circle: circle, StatusCode: statusOnFailure(resp), Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Circle: circle, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, &FetchError{Circle: circle, Err: err}
	}

	captured := c.now()
	return Normalize(records, captured), nil
}

func statusOnFailure(resp *http.Response) int {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode
	}
	return 0
}

// ExtractArray returns the slice between the first '[' and the last ']' of a
// payload, closed with ']'. The envelope around the array is ignored.
func ExtractArray(payload []byte) ([]byte, error) {
	start := bytes.IndexByte(payload, '[')
	end := bytes.LastIndexByte(payload, ']')
	if start < 0 || end < start {
		return nil, ErrNoArray
	}
	out := make([]byte, 0, end-start+1)
	out = append(out, payload[start:end]...)
	return append(out, ']'), nil
}

// DecodeRecords locates the aircraft array in payload and decodes its records
// with numbers left undecoded.
func DecodeRecords(payload []byte) ([]map[string]any, error) {
	arr, err := ExtractArray(payload)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(arr))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode aircraft array: %w", err)
	}
	return records, nil
}

// Normalize turns decoded records into observations. desc is renamed to
// Description (an explicit Description wins), numbers become int64 or
// float64, objects and non-string arrays are flattened to canonical JSON text
// (types.Opaque) and string arrays become []string. The capture time is
// stamped as epoch seconds.
func Normalize(records []map[string]any, captured time.Time) []types.Observation {
	stamp := float64(captured.Unix()) + float64(captured.Nanosecond())/1e9
	out := make([]types.Observation, 0, len(records))
	for _, rec := range records {
		obs := make(types.Observation, len(rec)+1)
		for k, v := range rec {
			if k == "desc" {
				if _, ok := rec[types.FieldDescription]; ok {
					continue
				}
				k = types.FieldDescription
			}
			obs[k] = normalizeValue(v)
		}
		obs[types.FieldTime] = stamp
		out = append(out, obs)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		return flatten(val)
	case []any:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return flatten(val)
			}
			strs = append(strs, s)
		}
		return strs
	default:
		return val
	}
}

// flatten encodes a nested object or array as JSON text with sorted keys
func flatten(obj any) types.Opaque {
	data, err := json.Marshal(obj)
	if err != nil {
		return types.Opaque(fmt.Sprintf("%v", obj))
	}
	return types.Opaque(data)
}
